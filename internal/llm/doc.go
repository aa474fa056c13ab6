// Package llm talks to hosted language models on behalf of the batch
// categorization driver. A Categorizer turns a batch of stored transactions
// into one prompt, sends it through a provider Client (OpenAI, Anthropic or
// Gemini) and resolves the returned category names against an explicit
// snapshot of the owner's categories.
package llm
