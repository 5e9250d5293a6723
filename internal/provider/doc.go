// Package provider wraps upstream LLM vendors behind a resilient generation client.
//
// Every vendor is an eino chat model wrapped by a Client, which owns the
// vendor's circuit breaker and retry policy. Supported vendors:
//
//   - anthropic: Claude models through eino-ext/components/model/claude,
//     directly or through AWS Bedrock.
//   - openai: OpenAI and compatible endpoints through
//     eino-ext/components/model/openai, including Azure.
//   - ark: Volcengine ARK endpoints through eino-ext/components/model/ark.
//
// # Call path
//
// A generation call runs as
//
//	breaker.Execute(ctx, b, func(ctx) { retry.Do(ctx, attempt, opts) })
//
// so the breaker records one failure only after all retries are exhausted.
// Each attempt is bounded by the client's call timeout. Output that cannot be
// parsed (*ParseError) or that fails validation (*GenerationError) is not
// retried but still counts against the breaker.
//
// # Prompting
//
// The system prompt embeds the exact encounter JSON schema. The user prompt
// carries the difficulty, the difficulty level as complexity wording, the
// theme, the player's level and preferences, and the last five completed
// encounters.
//
// # Registry
//
// InitializeProviders builds one provider per enabled config entry with an
// API key. Requests may pin a provider by id; otherwise the configured
// default is used, then the first of anthropic, openai, ark.
package provider
