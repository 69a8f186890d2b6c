package masterdata

import (
	"context"
	"strings"
	"testing"
	"time"

	"testlms/internal/auth"
	"testlms/internal/db/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin   = auth.User{ID: 100, Role: auth.RoleAdmin}
	teacher = auth.User{ID: 1, Role: auth.RoleTeacher}
	other   = auth.User{ID: 2, Role: auth.RoleTeacher}
)

func TestTopics(t *testing.T) {
	ctx := context.Background()
	svc := NewService(dbtest.SQLite(t), nil)

	_, err := svc.CreateTopic(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateTopic(ctx, "Physics")
	require.NoError(t, err)
	chem, err := svc.CreateTopic(ctx, " Chemistry ")
	require.NoError(t, err)
	assert.Equal(t, "Chemistry", chem.Name)

	topics, err := svc.ListTopics(ctx)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "Chemistry", topics[0].Name)
	assert.Equal(t, "Physics", topics[1].Name)
}

func TestCreateGroupOwnership(t *testing.T) {
	ctx := context.Background()
	svc := NewService(dbtest.SQLite(t), nil)

	g, err := svc.CreateGroup(ctx, teacher, CreateGroupInput{Name: "10B"})
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, g.TeacherID)

	_, err = svc.CreateGroup(ctx, teacher, CreateGroupInput{Name: "10C", TeacherID: other.ID})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.CreateGroup(ctx, admin, CreateGroupInput{Name: "10C"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.CreateGroup(ctx, admin, CreateGroupInput{Name: "10C", TeacherID: other.ID})
	require.NoError(t, err)

	mine, err := svc.ListGroups(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "10B", mine[0].Name)

	all, err := svc.ListGroups(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMembers(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.SQLite(t)
	_, groupID := dbtest.Seed(t, conn, 7)
	svc := NewService(conn, nil)

	require.NoError(t, svc.AddMember(ctx, teacher, groupID, 8))
	assert.ErrorIs(t, svc.AddMember(ctx, teacher, groupID, 8), ErrAlreadyMember)
	assert.ErrorIs(t, svc.AddMember(ctx, teacher, groupID, 0), ErrInvalidInput)
	assert.ErrorIs(t, svc.AddMember(ctx, other, groupID, 9), ErrForbidden)
	assert.ErrorIs(t, svc.AddMember(ctx, admin, 999, 9), ErrGroupNotFound)

	members, err := svc.ListMembers(ctx, admin, groupID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8}, members)

	groups, err := svc.ListGroups(ctx, teacher)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].Members)

	require.NoError(t, svc.RemoveMember(ctx, teacher, groupID, 7))
	assert.ErrorIs(t, svc.RemoveMember(ctx, teacher, groupID, 7), ErrMemberNotFound)
}

func TestImportMembersCSV(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.SQLite(t)
	_, groupID := dbtest.Seed(t, conn, 7)
	svc := NewService(conn, nil)

	body := "User ID,name\n8,Ana\nabc,Bad\n7,Already\n9,Budi\n"
	report, err := svc.ImportMembersCSV(ctx, teacher, groupID, strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalRows)
	assert.Equal(t, 2, report.SuccessRows)
	assert.Equal(t, 2, report.FailedRows)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 3, report.Errors[0].Row)
	assert.Equal(t, ErrAlreadyMember.Error(), report.Errors[1].Error)

	members, err := svc.ListMembers(ctx, teacher, groupID)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, members)
}

func TestImportMembersCSVRequiresColumn(t *testing.T) {
	conn := dbtest.SQLite(t)
	_, groupID := dbtest.Seed(t, conn)
	svc := NewService(conn, nil)

	_, err := svc.ImportMembersCSV(context.Background(), admin, groupID, strings.NewReader("name\nAna\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDeleteGroup(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.SQLite(t)
	_, busy := dbtest.Seed(t, conn, 7)
	svc := NewService(conn, nil)

	_, err := conn.ExecContext(ctx, `
		INSERT INTO tests (title, check_type, source, creator_id, group_id, created_at)
		VALUES ('Quiz', 'auto', 'manual', 1, $1, $2)
	`, busy, time.Now().UTC())
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteGroup(ctx, admin, busy), ErrGroupInUse)

	empty, err := svc.CreateGroup(ctx, teacher, CreateGroupInput{Name: "Spare"})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.DeleteGroup(ctx, other, empty.ID), ErrForbidden)
	require.NoError(t, svc.DeleteGroup(ctx, teacher, empty.ID))
	assert.ErrorIs(t, svc.DeleteGroup(ctx, teacher, empty.ID), ErrGroupNotFound)
}
