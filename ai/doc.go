// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package ai talks to chat-completion providers and builds analysis prompts.

Every supported provider (chat_server, deepseek, doubao, qwen) speaks the
OpenAI chat-completions protocol, so a single go-openai client is pointed
at the provider's base URL with the user's key. chat_server falls back to
the server-wide URL and token.

Prompts record the line "Total submissions: N". When a task's stored prompt
carries a count that no longer matches, it is rebuilt before display.
*/
package ai
