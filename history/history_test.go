package history

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoopvision/overfit/config"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func sampleRecord(epoch int) Record {
	return Record{
		Epoch:          epoch,
		ModelFile:      "checkpoints/r3d_epoch_1.json",
		TrainLoss:      1.25,
		ValLoss:        1.5,
		TrainAcc:       0.75,
		ValAcc:         0.5,
		TrainF1:        0.777778,
		ValF1:          0.4,
		TrainPrecision: 0.833333,
		ValPrecision:   0.5,
		TrainRecall:    0.833333,
		ValRecall:      0.333333,
		TrainConfusion: "[1 0 0; 0 1 0; 0 1 1]",
		ValConfusion:   "[0 1; 0 1]",
	}
}

func TestFormatLineFieldOrder(t *testing.T) {
	line := FormatLine(sampleRecord(1))

	keys := []string{"epoch=", "model=", "train_loss=", "val_loss=", "train_acc=", "val_acc=",
		"train_f1=", "val_f1=", "train_precision=", "val_precision=", "train_recall=",
		"val_recall=", "train_cm=", "val_cm="}
	last := -1
	for _, key := range keys {
		idx := strings.Index(line, key)
		require.GreaterOrEqual(t, idx, 0, "missing %s", key)
		assert.Greater(t, idx, last, "%s out of order", key)
		last = idx
	}
	assert.NotContains(t, line, "\n")
	assert.True(t, strings.HasSuffix(line, "val_cm=[0 1; 0 1]"))
}

func TestParseLineRoundTrip(t *testing.T) {
	rec := sampleRecord(7)
	parsed, err := ParseLine(FormatLine(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, parsed)
}

func TestParseLineRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"epoch=1 model=x",
		"epoch=x model=m train_cm=[] val_cm=[]",
		"epoch=1 model=m bogus=1 train_cm=[] val_cm=[]",
	} {
		_, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrMalformedLine, "line %q", line)
	}
}

func TestTextFileAppendsInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "history.txt")
	sink, err := NewTextFile(path)
	require.NoError(t, err)

	for epoch := 1; epoch <= 3; epoch++ {
		require.NoError(t, sink.Append(context.Background(), sampleRecord(epoch)))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "epoch=1 "))
	assert.True(t, strings.HasPrefix(lines[2], "epoch=3 "))

	records, err := sink.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 2, records[1].Epoch)
}

func TestTextFileKeepsExistingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.txt")
	require.NoError(t, os.WriteFile(path, []byte(FormatLine(sampleRecord(1))+"\n"), 0o644))

	sink, err := NewTextFile(path)
	require.NoError(t, err)
	require.NoError(t, sink.Append(context.Background(), sampleRecord(2)))

	records, err := sink.ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

type recordingSink struct {
	records []Record
	err     error
}

func (s *recordingSink) Append(_ context.Context, rec Record) error {
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func TestMultiSink(t *testing.T) {
	first, second := &recordingSink{}, &recordingSink{}
	require.NoError(t, MultiSink{first, second}.Append(context.Background(), sampleRecord(1)))
	assert.Len(t, first.records, 1)
	assert.Len(t, second.records, 1)

	boom := errors.New("boom")
	failing, after := &recordingSink{err: boom}, &recordingSink{}
	err := MultiSink{failing, after}.Append(context.Background(), sampleRecord(2))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, after.records, "sinks after a failure are not called")

	assert.ErrorIs(t, MultiSink{nil}.Append(context.Background(), sampleRecord(3)), ErrNilSink)
}

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := MySQLDSN(config.MySQLConfig{Host: "127.0.0.1", User: "root", DBName: "overfit"})
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       dsn,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(config.MySQLConfig{Host: "db", User: "u", Password: "p", DBName: "runs"})
	assert.True(t, strings.HasPrefix(dsn, "u:p@tcp(db:3306)/runs?"))
	assert.Contains(t, dsn, "parseTime=True")
}

func TestGormSinkBuildsInsert(t *testing.T) {
	db := dryRunDB(t)
	sink := NewGormSink(db, "overfit-check", nil)

	require.NoError(t, sink.Append(context.Background(), sampleRecord(4)))

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		return tx.Create(newEpochHistory("overfit-check", sampleRecord(4)))
	})
	assert.Contains(t, sql, "INSERT INTO `overfit_epoch_history`")
	assert.Contains(t, sql, "`val_acc`")
	assert.Contains(t, sql, "'overfit-check'")
}

func TestGormSinkWithoutDB(t *testing.T) {
	sink := NewGormSink(nil, "x", nil)
	assert.ErrorIs(t, sink.Append(context.Background(), sampleRecord(1)), ErrDBNotInitialized)
}

func TestEpochHistoryRecord(t *testing.T) {
	rec := sampleRecord(9)
	row := newEpochHistory("exp", rec)
	assert.Equal(t, "exp", row.Experiment)
	assert.Equal(t, rec, row.Record())
	assert.Equal(t, "overfit_epoch_history", row.TableName())
}

// captureHook answers every command locally and records its arguments.
type captureHook struct {
	args [][]interface{}
}

func (h *captureHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial disabled in tests")
	}
}

func (h *captureHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.args = append(h.args, cmd.Args())
		if sc, ok := cmd.(*redis.StringCmd); ok {
			sc.SetVal("1-0")
		}
		return nil
	}
}

func (h *captureHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			h.args = append(h.args, cmd.Args())
		}
		return nil
	}
}

func TestRedisSinkXAdd(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	hook := &captureHook{}
	client.AddHook(hook)

	sink := NewRedisSink(client, "", "overfit-check")
	assert.Equal(t, "overfit:history", sink.Stream())
	require.NoError(t, sink.Append(context.Background(), sampleRecord(2)))

	require.Len(t, hook.args, 1)
	args := hook.args[0]
	require.GreaterOrEqual(t, len(args), 3)
	assert.Equal(t, "xadd", args[0])
	assert.Equal(t, "overfit:history", args[1])
	assert.Equal(t, "*", args[2])

	values := make(map[string]interface{})
	for i := 3; i+1 < len(args); i += 2 {
		values[args[i].(string)] = args[i+1]
	}
	assert.Equal(t, "overfit-check", values["experiment"])
	assert.Equal(t, 2, values["epoch"])

	var decoded Record
	require.NoError(t, json.Unmarshal([]byte(values["record"].(string)), &decoded))
	assert.Equal(t, sampleRecord(2), decoded)
}
