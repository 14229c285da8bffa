package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ainative/accounts/internal/db/models"
)

var orgCols = []string{"id", "name", "display_name", "created_at", "updated_at"}

func newOrgRepo(t *testing.T) (*OrganizationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewOrganizationRepository(db), mock
}

func sampleOrgRow() *sqlmock.Rows {
	return sqlmock.NewRows(orgCols).AddRow("org-1", "acme", "Acme Inc", time.Now(), time.Now())
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

func TestOrgGetByName_Found(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE name").
		WithArgs("acme").
		WillReturnRows(sampleOrgRow())

	org, err := repo.GetByName(context.Background(), "acme")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org == nil || org.DisplayName != "Acme Inc" {
		t.Fatalf("org = %+v", org)
	}
}

func TestOrgGetByID_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations WHERE id").
		WillReturnRows(sqlmock.NewRows(orgCols))

	org, err := repo.GetByID(context.Background(), "missing")
	if err != nil || org != nil {
		t.Fatalf("GetByID = %v, %v; want nil, nil", org, err)
	}
}

func TestOrgGetByID_DBError(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT.*FROM organizations").WillReturnError(errDB)

	if _, err := repo.GetByID(context.Background(), "org-1"); !errors.Is(err, errDB) {
		t.Fatalf("err = %v, want wrapped errDB", err)
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestOrgCreate_Duplicate(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Organization{Name: "acme", DisplayName: "Acme"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestOrgCreate_AssignsID(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("INSERT INTO organizations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	org := &models.Organization{Name: "acme", DisplayName: "Acme"}
	if err := repo.Create(context.Background(), org); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.ID == "" || org.CreatedAt.IsZero() {
		t.Errorf("ID/CreatedAt not set: %+v", org)
	}
}

func TestOrgUpdate_NotFound(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("UPDATE organizations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Organization{ID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOrgDelete_Success(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("DELETE FROM organizations WHERE id").
		WithArgs("org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Delete(context.Background(), "org-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrgList(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery("SELECT.*FROM organizations ORDER BY name").
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(orgCols).
			AddRow("org-1", "acme", "Acme", time.Now(), time.Now()).
			AddRow("org-2", "globex", "Globex", time.Now(), time.Now()))

	orgs, total, err := repo.List(context.Background(), 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(orgs) != 2 {
		t.Errorf("total=%d len=%d, want 2/2", total, len(orgs))
	}
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

func TestOrgAddMember(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("INSERT INTO user_organizations.*ON CONFLICT").
		WithArgs("user-1", "org-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AddMember(context.Background(), "org-1", "user-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrgRemoveMember_NotMember(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectExec("DELETE FROM user_organizations").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.RemoveMember(context.Background(), "org-1", "user-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListUserOrganizations(t *testing.T) {
	repo, mock := newOrgRepo(t)
	mock.ExpectQuery("SELECT o.id.*JOIN user_organizations uo.*WHERE uo.user_id = \\$1").
		WithArgs("user-1").
		WillReturnRows(sampleOrgRow())

	orgs, err := repo.ListUserOrganizations(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orgs) != 1 || orgs[0].Name != "acme" {
		t.Errorf("orgs = %+v", orgs)
	}
}
