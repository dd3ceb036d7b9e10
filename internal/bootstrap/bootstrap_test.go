package bootstrap

import (
	"context"
	"testing"
	"time"

	"wallet-ledger/config"
	"wallet-ledger/internal/core/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{LockTimeout: time.Second},
		Ledger:   config.LedgerConfig{Currency: "BRL_CENTS", Storage: config.StorageMemory},
		Limits: config.LimitsConfig{
			DailyDeposit:    1_000_000,
			DailyWithdrawal: 200_000,
			Timezone:        "America/Sao_Paulo",
		},
	}
}

func TestLimitPolicy(t *testing.T) {
	cfg := testConfig().Limits
	cfg.TransfersCountTowardWithdrawal = true

	p, err := LimitPolicy(cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), p.DailyDeposit)
	assert.Equal(t, int64(200_000), p.DailyWithdrawal)
	assert.True(t, p.TransfersCountTowardWithdrawal)
	require.NotNil(t, p.Location)
	assert.Equal(t, "America/Sao_Paulo", p.Location.String())
	assert.Equal(t, []domain.EventKind{domain.KindFundsWithdrawn, domain.KindTransferSent}, p.WithdrawalKinds())
}

func TestLimitPolicy_BadTimezone(t *testing.T) {
	cfg := testConfig().Limits
	cfg.Timezone = "Mars/Olympus_Mons"

	_, err := LimitPolicy(cfg)
	assert.Error(t, err)
}

func TestOpenStorage_Memory(t *testing.T) {
	cfg := testConfig()
	st, err := OpenStorage(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	assert.Equal(t, config.StorageMemory, st.Driver)
	assert.Empty(t, st.HealthChecks)

	ledger, err := NewLedger(cfg, st, nil, nil, nil, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	userID := uuid.New()
	_, err = ledger.ProvisionWallet(ctx, userID)
	require.NoError(t, err)
	_, err = ledger.Deposit(ctx, userID, 250)
	require.NoError(t, err)

	view, err := ledger.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), view.Balance)
	assert.Equal(t, "BRL_CENTS", view.Currency)
}

func TestOpenStorage_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.Storage = "sqlite"

	_, err := OpenStorage(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
