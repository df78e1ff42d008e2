package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/spoke-identity-sync/internal/model"
)

func expectMemberLocks(mock sqlmock.Sqlmock, keys ...string) {
	for _, key := range keys {
		mock.ExpectExec(sqlPattern(`SELECT pg_advisory_xact_lock(hashtext($1))`)).
			WithArgs(key).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func expectPhoneMatch(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(sqlPattern(
		`SELECT members.* FROM "members"`,
		`JOIN phone_numbers ON phone_numbers.member_id = members.id`,
		`WHERE phone_numbers.phone IN`,
		`ORDER BY phone_numbers.updated_at DESC, members.id ASC`,
	)).WillReturnRows(rows)
}

func TestResolveMember_CreatesUnderAdvisoryLocks(t *testing.T) {
	repo, mock := newMockRepo(t)
	in := model.MemberInput{
		Phones:     []model.MemberPhoneInput{{Phone: "+61 427 700 402"}, {Phone: "+61427700401"}},
		FirstName:  "Bob",
		LastName:   "Jones",
		ExternalID: "ext-9",
		EntryPoint: "spoke:handle_new_message",
	}

	mock.ExpectBegin()
	expectMemberLocks(mock,
		"member:external_id:ext-9",
		"member:phone:61427700401",
		"member:phone:61427700402",
	)
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "members" WHERE external_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	expectPhoneMatch(mock, sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(sqlPattern(`INSERT INTO "members"`, `RETURNING "id"`)).
		WithArgs("Bob", "Jones", "ext-9", sqlmock.AnyArg(), AnyTime{}, AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))
	for _, phone := range []string{"61427700402", "61427700401"} {
		mock.ExpectQuery(sqlPattern(
			`INSERT INTO "phone_numbers"`,
			`ON CONFLICT ("member_id","phone") DO UPDATE SET "phone_type"="excluded"."phone_type","updated_at"="excluded"."updated_at"`,
		)).
			WithArgs(42, phone, repo.phoneType(phone), AnyTime{}, AnyTime{}).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	}
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "phone_numbers" WHERE member_id = $1 ORDER BY updated_at DESC`)).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows([]string{"id", "member_id", "phone", "phone_type"}).
			AddRow(1, 42, "61427700402", model.PhoneTypeMobile).
			AddRow(2, 42, "61427700401", model.PhoneTypeMobile))
	mock.ExpectCommit()

	member, err := repo.ResolveMember(testContext(t), in, true)

	require.NoError(t, err)
	assert.Equal(t, uint(42), member.ID)
	require.NotNil(t, member.ExternalID)
	assert.Equal(t, "ext-9", *member.ExternalID)
	assert.Len(t, member.PhoneNumbers, 2)
}

func TestResolveMember_BestEffortMatchesByPhone(t *testing.T) {
	repo, mock := newMockRepo(t)
	in := model.MemberInput{
		Phones:     []model.MemberPhoneInput{{Phone: "+61427700401"}},
		LastName:   "Jones",
		ExternalID: "ignored",
	}

	mock.ExpectBegin()
	expectMemberLocks(mock, "member:phone:61427700401")
	expectPhoneMatch(mock, sqlmock.NewRows([]string{"id", "first_name", "last_name"}).AddRow(7, "Bob", ""))
	mock.ExpectExec(sqlPattern(`UPDATE "members" SET`, `"last_name"=`, `WHERE "id" = `)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sqlPattern(`INSERT INTO "phone_numbers"`, `ON CONFLICT ("member_id","phone") DO UPDATE`)).
		WithArgs(7, "61427700401", repo.phoneType("61427700401"), AnyTime{}, AnyTime{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectQuery(sqlPattern(`SELECT * FROM "phone_numbers" WHERE member_id = $1`)).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"id", "member_id", "phone"}).AddRow(3, 7, "61427700401"))
	mock.ExpectCommit()

	member, err := repo.ResolveMember(testContext(t), in, false)

	require.NoError(t, err)
	assert.Equal(t, uint(7), member.ID)
	assert.Nil(t, member.ExternalID)
	assert.Equal(t, "Bob", member.FirstName)
	assert.Equal(t, "Jones", member.LastName)
}
