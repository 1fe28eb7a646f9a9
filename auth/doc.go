// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package auth provides credential, token, and code generation utilities.

# Passwords

Passwords are stored as bcrypt hashes:

	hash, err := auth.HashPassword(password)
	err = auth.CheckPassword(hash, candidate)

CheckPassword returns ErrInvalidPassword for any mismatch, including a
malformed hash.

# Session Tokens

Session tokens are random 32-byte secrets handed to the client:

	token, err := auth.GenerateSessionToken()

Only the HMAC of a token is stored:

	key := auth.HashSessionToken(token, cfg.SessionSecret)

# Codes

	code, err := auth.GenerateEmailCode() // "042917"
	org, err := auth.GenerateOrgCode()    // "K7QW2MZP"

Organization codes avoid ambiguous characters (0/O, 1/I).

# ID Generation

Random hex IDs for database records:

	id, err := auth.GenerateID(16)  // 32 hex characters

# IP Hashing

Submitter IPs are stored only as salted hashes:

	hash := auth.HashIP(ipAddress, salt)

Returns first 8 bytes (16 hex chars) of HMAC-SHA256.
*/
package auth
