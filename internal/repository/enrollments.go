package repository

import (
	"context"
	"fmt"
)

// IsEnrolled reports whether the identity is enrolled in the course
func (r *Repository) IsEnrolled(ctx context.Context, courseID, identityID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM enrollments WHERE course_id = $1 AND identity_id = $2)`

	var enrolled bool
	if err := r.db.QueryRow(ctx, query, courseID, identityID).Scan(&enrolled); err != nil {
		return false, fmt.Errorf("failed to query enrollment: %w", err)
	}
	return enrolled, nil
}

// Enroll adds an identity to a course; enrolling twice is a no-op
func (r *Repository) Enroll(ctx context.Context, courseID, identityID string) error {
	query := `
		INSERT INTO enrollments (course_id, identity_id)
		VALUES ($1, $2)
		ON CONFLICT (course_id, identity_id) DO NOTHING
	`

	if _, err := r.db.Exec(ctx, query, courseID, identityID); err != nil {
		return fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return nil
}
