// Package llm defines the conversation message model and the streaming
// provider contract the agent drives, plus OpenAI-compatible and Anthropic
// implementations.
//
// Invariants:
// - A Provider reports text increments through the DeltaFunc in order; the
//   returned Response.Content equals their concatenation.
// - Retries happen only before the first delta is reported.
//
// Usage:
//
//	p, _ := llm.NewProvider(llm.ProviderConfig{Kind: "openai", APIKey: key})
//	resp, _ := p.Stream(ctx, llm.Request{Model: "gpt-4o-mini", Messages: msgs}, func(s string) {
//		fmt.Print(s)
//	})
//	_ = resp
package llm
