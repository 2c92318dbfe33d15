package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/voxprep/backend/models"
	"github.com/voxprep/backend/repository"
	"golang.org/x/crypto/bcrypt"
)

// DatabaseSeeder handles database seeding operations
type DatabaseSeeder struct {
	repo *repository.GORMRepository
}

// NewDatabaseSeeder creates a new database seeder
func NewDatabaseSeeder(repo *repository.GORMRepository) *DatabaseSeeder {
	return &DatabaseSeeder{repo: repo}
}

// SeedDatabase seeds the database with a demo organization, users and
// entities (idempotent)
func (s *DatabaseSeeder) SeedDatabase() error {
	ctx := context.Background()

	org, err := s.seedOrganization(ctx, models.Organization{
		Name: "VoxPrep Demo",
		Slug: "voxprep-demo",
	})
	if err != nil {
		return fmt.Errorf("failed to seed organization: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	users := []models.User{
		{
			Email:          "admin@example.com",
			Password:       string(hashedPassword),
			FullName:       "Demo Admin",
			Role:           "user",
			OrganizationID: &org.ID,
		},
		{
			Email:    "candidate@example.com",
			Password: string(hashedPassword),
			FullName: "Demo Candidate",
			Role:     "user",
		},
	}

	for _, user := range users {
		if err := s.seedUser(ctx, user); err != nil {
			slog.Error("Failed to seed user", "email", user.Email, "error", err)
		}
	}

	entities, err := s.repo.GetEntities(ctx, org.ID)
	if err != nil {
		return fmt.Errorf("failed to check entities: %w", err)
	}
	if len(entities) > 0 {
		slog.Info("Database seeding already completed, skipping")
		return nil
	}

	publicEntity := models.Entity{
		ID:              uuid.New().String(),
		OrganizationID:  org.ID,
		Type:            models.EntityTypeInterview,
		Title:           "Backend Engineer Screen",
		Description:     "A 30-minute screening interview covering backend fundamentals and system design basics.",
		Status:          models.EntityStatusPublished,
		Visibility:      models.VisibilityPublic,
		AgentID:         "demo-interviewer",
		AgentCredential: "demo-credential",
		Domain:          "backend",
		Seniority:       "mid",
	}
	if err := s.repo.CreateEntity(ctx, &publicEntity); err != nil {
		slog.Error("Failed to seed public entity", "error", err)
	} else {
		slog.Info("Created entity", "title", publicEntity.Title)
	}

	privateEntity := models.Entity{
		ID:              uuid.New().String(),
		OrganizationID:  org.ID,
		Type:            models.EntityTypeTraining,
		Title:           "Customer Escalation Practice",
		Description:     "Invite-only training scenario for handling difficult customer escalations.",
		Status:          models.EntityStatusPublished,
		Visibility:      models.VisibilityPrivate,
		AgentID:         "demo-trainer",
		AgentCredential: "demo-credential",
		Category:        "customer-support",
		Difficulty:      "intermediate",
	}
	if err := s.repo.CreateEntity(ctx, &privateEntity); err != nil {
		slog.Error("Failed to seed private entity", "error", err)
		return nil
	}
	slog.Info("Created entity", "title", privateEntity.Title)

	code, err := generateInviteCode()
	if err != nil {
		return fmt.Errorf("failed to generate invite code: %w", err)
	}
	invite := models.Invite{
		ID:             uuid.New().String(),
		Code:           code,
		EntityID:       privateEntity.ID,
		OrganizationID: org.ID,
		Name:           "Demo Invitee",
		Email:          "invitee@example.com",
	}
	if err := s.repo.CreateInvite(ctx, &invite); err != nil {
		slog.Error("Failed to seed invite", "error", err)
	} else {
		slog.Info("Created invite", "code", invite.Code, "entity_id", privateEntity.ID)
	}

	slog.Info("Database seeding completed successfully")
	return nil
}

// seedOrganization seeds the demo organization (idempotent)
func (s *DatabaseSeeder) seedOrganization(ctx context.Context, org models.Organization) (*models.Organization, error) {
	existing, err := s.repo.GetOrganizationBySlug(ctx, org.Slug)
	if err != nil {
		return nil, fmt.Errorf("error checking organization %s: %w", org.Slug, err)
	}
	if existing != nil {
		return existing, nil
	}

	org.ID = uuid.New().String()
	if err := s.repo.CreateOrganization(ctx, &org); err != nil {
		return nil, fmt.Errorf("failed to create organization %s: %w", org.Slug, err)
	}

	slog.Info("Created organization", "slug", org.Slug)
	return &org, nil
}

// seedUser seeds a single user (idempotent)
func (s *DatabaseSeeder) seedUser(ctx context.Context, user models.User) error {
	existingUser, err := s.repo.GetUserByEmail(ctx, user.Email)
	if err != nil {
		return fmt.Errorf("error checking user %s: %w", user.Email, err)
	}

	if existingUser != nil {
		slog.Info("User already exists, skipping", "email", user.Email)
		return nil
	}

	if err := s.repo.CreateUser(ctx, &user); err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.Email, err)
	}

	slog.Info("Created user", "email", user.Email)
	return nil
}
