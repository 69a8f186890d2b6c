// Package masterdata manages the reference data tests hang off: topics,
// groups and group membership.
package masterdata

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"testlms/internal/auth"
	"testlms/internal/db"

	"go.uber.org/zap"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrGroupNotFound  = errors.New("group not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrAlreadyMember  = errors.New("user already in group")
	ErrGroupInUse     = errors.New("group still has tests")
	ErrForbidden      = errors.New("group belongs to another teacher")
)

type Service struct {
	db  *sql.DB
	log *zap.Logger
}

type Topic struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Group struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	TeacherID int64  `json:"teacher_id"`
	Members   int    `json:"members"`
}

type CreateGroupInput struct {
	Name      string
	TeacherID int64
}

type ImportMembersReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Errors      []ImportRowError `json:"errors"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

func NewService(conn *sql.DB, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{db: conn, log: log}
}

func (s *Service) CreateTopic(ctx context.Context, name string) (*Topic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidInput
	}
	out := Topic{Name: name}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO topics (name) VALUES ($1) RETURNING id
	`, name).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return &out, nil
}

func (s *Service) ListTopics(ctx context.Context) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM topics ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	out := make([]Topic, 0)
	for rows.Next() {
		var it Topic
		if err := rows.Scan(&it.ID, &it.Name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return out, nil
}

// CreateGroup creates a group owned by in.TeacherID. Teachers may only create
// groups for themselves.
func (s *Service) CreateGroup(ctx context.Context, actor auth.User, in CreateGroupInput) (*Group, error) {
	name := strings.TrimSpace(in.Name)
	teacherID := in.TeacherID
	if actor.Role == auth.RoleTeacher {
		if teacherID != 0 && teacherID != actor.ID {
			return nil, ErrForbidden
		}
		teacherID = actor.ID
	}
	if name == "" || teacherID <= 0 {
		return nil, ErrInvalidInput
	}

	out := Group{Name: name, TeacherID: teacherID}
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, teacher_id) VALUES ($1, $2) RETURNING id
	`, name, teacherID).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	s.log.Info("group created", zap.Int64("group_id", out.ID), zap.Int64("actor_id", actor.ID))
	return &out, nil
}

// ListGroups returns every group for admins and only the caller's own groups
// for teachers.
func (s *Service) ListGroups(ctx context.Context, actor auth.User) ([]Group, error) {
	var teacherID int64
	if actor.Role != auth.RoleAdmin {
		teacherID = actor.ID
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.name, g.teacher_id,
			(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id)
		FROM groups g
		WHERE ($1 <= 0 OR g.teacher_id = $1)
		ORDER BY g.name ASC, g.id ASC
	`, teacherID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	out := make([]Group, 0)
	for rows.Next() {
		var it Group
		if err := rows.Scan(&it.ID, &it.Name, &it.TeacherID, &it.Members); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return out, nil
}

// DeleteGroup removes an empty group. Groups that still own tests are kept so
// recorded results stay attributable.
func (s *Service) DeleteGroup(ctx context.Context, actor auth.User, groupID int64) error {
	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.authorize(ctx, tx, actor, groupID); err != nil {
			return err
		}
		var tests int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM tests WHERE group_id = $1`, groupID).Scan(&tests); err != nil {
			return fmt.Errorf("count group tests: %w", err)
		}
		if tests > 0 {
			return ErrGroupInUse
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
		s.log.Info("group deleted", zap.Int64("group_id", groupID), zap.Int64("actor_id", actor.ID))
		return nil
	})
}

func (s *Service) ListMembers(ctx context.Context, actor auth.User, groupID int64) ([]int64, error) {
	if err := s.authorize(ctx, s.db, actor, groupID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY user_id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return out, nil
}

func (s *Service) AddMember(ctx context.Context, actor auth.User, groupID, userID int64) error {
	if userID <= 0 {
		return ErrInvalidInput
	}
	if err := s.authorize(ctx, s.db, actor, groupID); err != nil {
		return err
	}
	return s.insertMember(ctx, groupID, userID)
}

func (s *Service) RemoveMember(ctx context.Context, actor auth.User, groupID, userID int64) error {
	if err := s.authorize(ctx, s.db, actor, groupID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

// ImportMembersCSV adds one member per row of a CSV with a user_id column.
// Bad rows are reported and skipped; the rest are still imported.
func (s *Service) ImportMembersCSV(ctx context.Context, actor auth.User, groupID int64, r io.Reader) (*ImportMembersReport, error) {
	if err := s.authorize(ctx, s.db, actor, groupID); err != nil {
		return nil, err
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		if n := normalizeHeader(h); n != "" {
			index[n] = i
		}
	}
	if _, ok := index["user_id"]; !ok {
		return nil, fmt.Errorf("%w: missing required column: user_id", ErrInvalidInput)
	}

	report := &ImportMembersReport{Errors: make([]ImportRowError, 0)}
	rowNo := 1
	for {
		rowNo++
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.fail(rowNo, fmt.Sprintf("csv parse error: %v", err))
			continue
		}
		if isRowEmpty(rec) {
			continue
		}
		report.TotalRows++

		userID, err := strconv.ParseInt(cell(rec, index, "user_id"), 10, 64)
		if err != nil || userID <= 0 {
			report.fail(rowNo, "user_id must be a positive integer")
			continue
		}
		if err := s.insertMember(ctx, groupID, userID); err != nil {
			report.fail(rowNo, err.Error())
			continue
		}
		report.SuccessRows++
	}

	s.log.Info("members imported",
		zap.Int64("group_id", groupID),
		zap.Int("total_rows", report.TotalRows),
		zap.Int("success_rows", report.SuccessRows),
		zap.Int("failed_rows", report.FailedRows),
	)
	return report, nil
}

func (r *ImportMembersReport) fail(row int, msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	r.FailedRows++
	r.Errors = append(r.Errors, ImportRowError{Row: row, Error: msg})
}

func (s *Service) insertMember(ctx context.Context, groupID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
	`, groupID, userID)
	if db.IsUniqueViolation(err, "") {
		return ErrAlreadyMember
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// authorize loads the group and checks that a teacher actor owns it.
func (s *Service) authorize(ctx context.Context, q db.Querier, actor auth.User, groupID int64) error {
	if groupID <= 0 {
		return ErrGroupNotFound
	}
	var teacherID int64
	err := q.QueryRowContext(ctx, `SELECT teacher_id FROM groups WHERE id = $1`, groupID).Scan(&teacherID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("load group: %w", err)
	}
	if actor.Role == auth.RoleTeacher && teacherID != actor.ID {
		return ErrForbidden
	}
	return nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
