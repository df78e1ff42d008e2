package spoke

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/apperrors"
	"gitlab.com/timkado/api/spoke-identity-sync/pkg/logger"
)

func sqlPattern(fragments ...string) string {
	quoted := make([]string, len(fragments))
	for i, f := range fragments {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return strings.Join(quoted, ".*")
}

func newMockClient(t *testing.T) (*GormClient, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 db,
		PreferSimpleProtocol: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewGormClientWithDB(gormDB), mock
}

func testContext(t *testing.T) context.Context {
	return logger.WithLogger(context.Background(), zaptest.NewLogger(t))
}

func TestUpdatedMessages_FirstPageUsesStrictCursor(t *testing.T) {
	client, mock := newMockClient(t)
	since := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	created := since.Add(time.Hour)

	mock.ExpectQuery(sqlPattern(
		`SELECT * FROM "message" WHERE created_at > $1 AND send_status <> $2 ORDER BY created_at ASC, id ASC LIMIT`,
	)).WillReturnRows(sqlmock.NewRows([]string{"id", "assignment_id", "contact_number", "is_from_contact", "send_status", "created_at"}).
		AddRow(1, 10, "+61427700401", false, "DELIVERED", created).
		AddRow(7, 10, "+61427700401", true, "RECEIVED", created))

	messages, err := client.UpdatedMessages(testContext(t), Cursor{Since: since}, 1000)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, int64(1), messages[0].ID)
	assert.True(t, messages[1].IsFromContact)
}

func TestUpdatedMessages_KeysetContinuation(t *testing.T) {
	client, mock := newMockClient(t)
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(sqlPattern(
		`SELECT * FROM "message" WHERE (created_at > $1 OR (created_at = $2 AND id > $3)) AND send_status <> $4`,
	)).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	messages, err := client.UpdatedMessages(testContext(t), Cursor{Since: since, AfterID: 42}, 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestUpdatedOptOuts_UnreachableStore(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "opt_out" WHERE created_at > $1`)).
		WillReturnError(errors.New("permission denied for table opt_out"))

	_, err := client.UpdatedOptOuts(testContext(t), Cursor{Since: time.Unix(0, 0)}, 1000)
	assert.ErrorIs(t, err, apperrors.ErrExternalStore)
}

func TestActiveCampaigns(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "campaign" WHERE (is_started = $1 AND is_archived = $2) AND id > $3 ORDER BY id ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "is_started", "is_archived"}).AddRow(3, "Test", true, false))

	campaigns, err := client.ActiveCampaigns(testContext(t), 0, 1000)
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "Test", campaigns[0].Title)
}

func TestFindCampaignContact_NotFound(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "campaign_contact" WHERE campaign_id = $1 AND cell = $2 ORDER BY id ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := client.FindCampaignContact(testContext(t), 3, "+61481565811")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.False(t, errors.Is(err, apperrors.ErrExternalStore))
}

func TestLatestCampaignContactByCell(t *testing.T) {
	client, mock := newMockClient(t)

	mock.ExpectQuery(sqlPattern(`SELECT * FROM "campaign_contact" WHERE cell = $1 ORDER BY id DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "campaign_id", "cell", "external_id"}).AddRow(9, 3, "+61427700401", "77"))

	cc, err := client.LatestCampaignContactByCell(testContext(t), "+61427700401")
	require.NoError(t, err)
	assert.Equal(t, int64(9), cc.ID)
	assert.Equal(t, "77", cc.ExternalID)
}

func TestAddCampaignContacts(t *testing.T) {
	client, mock := newMockClient(t)
	rows := []CampaignContactRow{
		{CampaignID: 3, ExternalID: "1", FirstName: "Alice", Cell: "+61427700401", CustomFields: `{"secret":"me_likes"}`},
		{CampaignID: 3, ExternalID: "2", FirstName: "Bob", Cell: "+61427700402", CustomFields: `{}`},
	}

	mock.ExpectQuery(sqlPattern(`INSERT INTO "campaign_contact"`, `ON CONFLICT DO NOTHING`, `RETURNING`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100).AddRow(101))

	written, err := client.AddCampaignContacts(testContext(t), rows)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
}

func TestAddCampaignContacts_Empty(t *testing.T) {
	client, _ := newMockClient(t)
	written, err := client.AddCampaignContacts(testContext(t), nil)
	require.NoError(t, err)
	assert.Zero(t, written)
}
