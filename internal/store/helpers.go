package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-trust/internal/model"
)

// sqliteTime is fixed width so stored timestamps sort lexically.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse time %q", s)
	}
	return t.UTC(), nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullBlob binds an empty slice as NULL rather than a zero-length blob.
func nullBlob(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func marshalExecution(exec *model.WorkflowExecution) (input, evidence []byte, err error) {
	in := exec.Input
	if in == nil {
		in = map[string]string{}
	}
	input, err = json.Marshal(in)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal input params")
	}
	ev := exec.Evidence
	if ev == nil {
		ev = []model.Evidence{}
	}
	for i, e := range ev {
		if verr := e.Validate(); verr != nil {
			return nil, nil, model.NewValidationError(fmt.Sprintf("evidence[%d]", i), verr.Error())
		}
	}
	evidence, err = json.Marshal(ev)
	if err != nil {
		return nil, nil, eris.Wrap(err, "marshal evidence")
	}
	return input, evidence, nil
}

func unmarshalExecution(exec *model.WorkflowExecution, input, evidence []byte) error {
	if len(input) > 0 {
		if err := json.Unmarshal(input, &exec.Input); err != nil {
			return eris.Wrap(err, "unmarshal input params")
		}
	}
	exec.Evidence = []model.Evidence{}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &exec.Evidence); err != nil {
			return eris.Wrap(err, "unmarshal evidence")
		}
	}
	return nil
}

func checkRowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "rows affected")
	}
	return n, nil
}
