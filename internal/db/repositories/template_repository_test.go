package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var templateCols = []string{
	"id", "name", "description", "user_message", "max_parallel_executions",
	"remove_after_minutes", "notify_before_destroy", "allowed_groups",
	"prolong_by_days", "provider_reference", "template_params", "created_at",
}

func newTemplateRepo(t *testing.T) (*TemplateRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewTemplateRepository(db), mock
}

func TestTemplateGetByID(t *testing.T) {
	repo, mock := newTemplateRepo(t)
	days := 7
	mock.ExpectQuery("SELECT(.|\n)+FROM server_templates WHERE id").
		WithArgs("tmpl-1").
		WillReturnRows(sqlmock.NewRows(templateCols).
			AddRow("tmpl-1", "ubuntu-dev", "Throwaway dev box", "Address: {{.ServerAddress}}",
				3, 1440, true, pq.Array([]string{"dev", "staff"}),
				&days, "hetzner", []byte(`{"server_type":"cx22"}`), time.Now()))

	tmpl, err := repo.GetByID(context.Background(), "tmpl-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if tmpl == nil {
		t.Fatal("GetByID returned nil template")
	}
	if tmpl.Name != "ubuntu-dev" || tmpl.ProviderReference != "hetzner" {
		t.Errorf("unexpected template: %+v", tmpl)
	}
	if len(tmpl.AllowedGroups) != 2 || tmpl.AllowedGroups[0] != "dev" {
		t.Errorf("allowed groups = %v", tmpl.AllowedGroups)
	}
	if tmpl.ProlongByDays == nil || *tmpl.ProlongByDays != 7 {
		t.Errorf("prolong days = %v, want 7", tmpl.ProlongByDays)
	}
	if tmpl.TemplateParams["server_type"] != "cx22" {
		t.Errorf("template params = %v", tmpl.TemplateParams)
	}
}

func TestTemplateGetByIDAbsent(t *testing.T) {
	repo, mock := newTemplateRepo(t)
	mock.ExpectQuery("SELECT(.|\n)+FROM server_templates WHERE id").
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(templateCols))

	tmpl, err := repo.GetByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if tmpl != nil {
		t.Errorf("expected nil for absent template, got %+v", tmpl)
	}
}

func TestTemplateNullParams(t *testing.T) {
	repo, mock := newTemplateRepo(t)
	mock.ExpectQuery("SELECT(.|\n)+FROM server_templates WHERE id").
		WithArgs("tmpl-2").
		WillReturnRows(sqlmock.NewRows(templateCols).
			AddRow("tmpl-2", "bare", "No params", "",
				0, 60, false, pq.Array([]string{}),
				nil, "hetzner", nil, time.Now()))

	tmpl, err := repo.GetByID(context.Background(), "tmpl-2")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if tmpl.TemplateParams != nil {
		t.Errorf("params should stay nil, got %v", tmpl.TemplateParams)
	}
	if tmpl.ProlongByDays != nil {
		t.Errorf("prolong days should stay nil, got %v", *tmpl.ProlongByDays)
	}
}
