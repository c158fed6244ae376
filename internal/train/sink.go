package train

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"wisefido-sleepstage/internal/labeler"
	"wisefido-sleepstage/internal/metrics"
)

// SnapshotSink 最优快照的保存位置
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snapshot *labeler.Snapshot, report metrics.Report) error
}

// SnapshotStore 快照注册表（repository.SnapshotRepository 实现）
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, name string, f1 float64, payload []byte) error
}

// FileSink 把快照写入本地文件（先写临时文件再重命名）
type FileSink struct {
	Path string
}

// SaveSnapshot 实现 SnapshotSink
func (f FileSink) SaveSnapshot(_ context.Context, snapshot *labeler.Snapshot, _ metrics.Report) error {
	if dir := filepath.Dir(f.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	tmp := f.Path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	if err := snapshot.Encode(file); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close snapshot file: %w", err)
	}
	return os.Rename(tmp, f.Path)
}

// StoreSink 把快照写入注册表
type StoreSink struct {
	Name  string
	Store SnapshotStore
}

// SaveSnapshot 实现 SnapshotSink
func (s StoreSink) SaveSnapshot(ctx context.Context, snapshot *labeler.Snapshot, report metrics.Report) error {
	var buf bytes.Buffer
	if err := snapshot.Encode(&buf); err != nil {
		return err
	}
	return s.Store.SaveSnapshot(ctx, s.Name, report.F1, buf.Bytes())
}
