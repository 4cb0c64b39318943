// Package toolexecutor dispatches the three database tools the agent may call.
//
// Invariants:
//   - The tool set is closed: list_tables, get_schema and run_sql. Any other name
//     yields {"error":"Unknown tool <name>"}.
//   - Arguments are validated against the same JSON schema advertised to the model.
//   - Invoke never fails and never panics; every fault becomes {"error":"..."}.
//   - run_sql always goes through the sanitizer before reaching the store.
//
// Usage:
//
//	exec, _ := toolexecutor.New(st, toolexecutor.DefaultConfig(), logger)
//	payload := exec.Invoke(ctx, "run_sql", map[string]interface{}{"query": "SELECT title FROM film"})
package toolexecutor
