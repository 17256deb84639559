package escrowd

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	"bountyescrow/core/events"
)

func openAudit(t *testing.T, dsn string) (*AuditStore, *gorm.DB) {
	t.Helper()
	db, err := OpenAuditDB(dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	store, err := NewAuditStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store, db
}

func TestAuditChainLinksRows(t *testing.T) {
	store, _ := openAudit(t, "")
	ctx := context.Background()

	first, err := store.Append(ctx, events.FundsLocked{BountyID: 1, Amount: big.NewInt(10)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), first.Seq)
	require.Empty(t, first.PrevHash)

	store.Emit(events.FundsReleased{BountyID: 1, Amount: big.NewInt(10)})
	rows, err := store.List(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, first.Hash, rows[1].PrevHash)
	require.Equal(t, events.TypeEscrowFundsReleased, rows[1].Type)

	checked, err := store.Verify(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), checked)
}

func TestAuditVerifyDetectsTampering(t *testing.T) {
	store, db := openAudit(t, "")
	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		_, err := store.Append(ctx, events.FundsLocked{BountyID: i, Amount: big.NewInt(int64(i))})
		require.NoError(t, err)
	}
	require.NoError(t, db.Model(&AuditRecord{}).Where("seq = ?", 2).
		Update("attributes", `{"amount":"999"}`).Error)

	checked, err := store.Verify(ctx)
	require.ErrorIs(t, err, ErrChainBroken)
	require.Equal(t, uint64(1), checked)
}

func TestAuditResumesHeadFromDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, _ := openAudit(t, dsn)
	last, err := store.Append(context.Background(), events.EscrowInitialized{})
	require.NoError(t, err)

	reopened, _ := openAudit(t, dsn)
	seq, head := reopened.Head()
	require.Equal(t, last.Seq, seq)
	require.Equal(t, last.Hash, head)

	next, err := reopened.Append(context.Background(), events.FundsLocked{BountyID: 2, Amount: big.NewInt(1)})
	require.NoError(t, err)
	require.Equal(t, last.Hash, next.PrevHash)
	_, err = reopened.Verify(context.Background())
	require.NoError(t, err)
}

func TestExportParquetRoundTrip(t *testing.T) {
	store, _ := openAudit(t, "")
	ctx := context.Background()
	for i := uint64(1); i <= 4; i++ {
		_, err := store.Append(ctx, events.FundsLocked{BountyID: i, Amount: big.NewInt(int64(i * 10))})
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "out", "audit.parquet")
	rows, err := store.ExportParquet(ctx, path, 1)
	require.NoError(t, err)
	require.Equal(t, 3, rows)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetAuditRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())
	out := make([]parquetAuditRow, 3)
	require.NoError(t, pr.Read(&out))
	require.Equal(t, int64(2), out[0].Seq)
	require.Equal(t, events.TypeEscrowFundsLocked, out[2].Type)
}
