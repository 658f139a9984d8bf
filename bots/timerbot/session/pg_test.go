package session

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jmhodges/clock"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface, clock.FakeClock) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	clk := clock.NewFake()
	return newPgStore(mock, clk, time.Second), mock, clk
}

func TestPgStore_LoadMissing(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM timer_sessions WHERE key=$1`)).
		WithArgs("1:2").
		WillReturnError(pgx.ErrNoRows)

	st, err := s.Load(context.Background(), NewKey(1, 2))
	require.NoError(t, err)
	assert.Zero(t, st.Timers.Len())
	assert.False(t, st.Render.CanEdit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Load(t *testing.T) {
	s, mock, _ := newMockStore(t)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	want := &State{Chat: Chat{ID: 2, Lang: "ru"}}
	_, err := want.Timers.Add(3*time.Minute, "eggs", now, 0)
	require.NoError(t, err)
	want.Render.SetTarget(EditTarget{ChatID: 2, MessageID: 77})

	raw, err := json.Marshal(want)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM timer_sessions WHERE key=$1`)).
		WithArgs("1:2").
		WillReturnRows(pgxmock.NewRows([]string{"state"}).AddRow(raw))

	st, err := s.Load(context.Background(), NewKey(1, 2))
	require.NoError(t, err)
	require.Equal(t, 1, st.Timers.Len())
	assert.Equal(t, "eggs", st.Timers.List[0].Label)
	assert.True(t, st.Timers.List[0].ExpiresAt.Equal(now.Add(3*time.Minute)))
	assert.Equal(t, want.Render, st.Render)
	assert.Equal(t, want.Chat, st.Chat)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_LoadFailure(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT state FROM timer_sessions`)).
		WithArgs("1:2").
		WillReturnError(errors.New("connection reset"))

	_, err := s.Load(context.Background(), NewKey(1, 2))
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Save(t *testing.T) {
	s, mock, clk := newMockStore(t)
	clk.Add(time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO timer_sessions(key, state, updated_at)`)).
		WithArgs("1:2", pgxmock.AnyArg(), clk.Now().UTC()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Save(context.Background(), NewKey(1, 2), &State{Chat: Chat{ID: 2}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_WipeAndPurge(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM timer_sessions WHERE key=$1`)).
		WithArgs("1:2").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM timer_sessions`)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, s.Wipe(context.Background(), NewKey(1, 2)))

	n, err := s.Purge(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Migrate(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS timer_sessions`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
