package models

// This file serves as the central export point for all database models
// Import this package to access all model types

// All models are automatically exported from their respective files:
// - User, RefreshToken, PermanentToken from user.go
// - Organization from organization.go
// - Entity from entity.go
// - Invite from invite.go
// - Session from session.go

// Database schema overview:
// 1. organizations - Tenants owning entities, invites and sessions
// 2. users - Managed by cookie-based authentication, org members
// 3. entities - Interview/training templates with optional voice-agent config
// 4. invites - Reusable access codes for private entities
// 5. sessions - One row per call attempt, org/entity scoped, transcript
//    persisted at call end
