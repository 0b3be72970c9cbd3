package curriculum

import (
	"encoding/json"
	"os"

	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

// AppendHistory appends one scan record to the rolling JSONL log at
// path, creating the file on first use.
func AppendHistory(path string, rec HistoryRecord) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.StorageFailed, "failed to open history log"),
			errors.Fields{"path": path},
		)
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to encode history record")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return errors.Wrap(err, errors.StorageFailed, "failed to append history record")
	}
	return nil
}
