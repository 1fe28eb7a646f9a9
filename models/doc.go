// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package models defines request, response, and domain types for the API.

# Domain Types

  - User, AIConfig: accounts and their AI provider settings
  - Task, HTMLFile, Submission: forms, their uploaded pages, collected data
  - Organization, OrganizationMember, TaskShare: collaboration
  - Post, PostReply: community board
  - CertificationRequest: teacher certification workflow

# Constants

Task sharing types:

	SharingPrivate      = "private"
	SharingOrganization = "organization"
	SharingShared       = "shared"
	SharingPublic       = "public"

Review state shared by HTML approval and certification requests:

	ReviewRejected = -1
	ReviewPending  = 0
	ReviewApproved = 1

A task_limit of UnlimitedTasks (-1) disables the quota.

AI providers: chat_server, deepseek, doubao, qwen.
*/
package models
