// Package agent runs the bounded decide, call tool, observe loop that turns a
// plain-language question into a final answer.
//
// Invariants:
//   - A transcript starts with the system instruction and the user query and is
//     only ever appended to.
//   - Every assistant message carrying tool calls is followed by exactly one tool
//     message per call, in the order the calls were emitted.
//   - The model is called at most stepLimit times per run.
//   - Every returned answer starts with "Final Answer:".
//   - Gateway failures end the run with a *GatewayError; tool failures never do.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Gateway: agent.NewProviderFactory(agent.GatewayConfig{OpenAIAPIKey: key}),
//		Tools:   executor,
//	})
//	result, err := runner.Run(ctx, "How many films are rated PG?", "gpt-4o-mini", 5)
package agent
