package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportErrorCaps(t *testing.T) {
	r := &RunReport{}

	for i := 0; i < 30; i++ {
		r.addError(KindWrite, fmt.Sprintf("rec%02d", i), errors.New("boom"))
	}

	assert.Equal(t, 30, r.Failed, "the counter is never truncated")

	var stored []RunError
	require.NoError(t, json.Unmarshal([]byte(r.errorsJSON()), &stored))
	assert.Len(t, stored, maxStoredErrors)

	r.finalize(time.Now())
	assert.Len(t, r.Errors, maxReportedErrors)
}

func TestReportErrorsJSONEmpty(t *testing.T) {
	r := &RunReport{}
	assert.Empty(t, r.errorsJSON())
}

func TestUserMessageOAuthSupersedes(t *testing.T) {
	r := &RunReport{}
	r.addError(KindWrite, "rec1", errors.New("write failed"))
	r.addError(KindWrite, "rec2", errors.New("write failed"))
	r.addError(KindOAuth, "", errors.New("token revoked"))

	assert.Equal(t, "authorization expired, please reconnect", r.userMessage())
}

func TestUserMessageDominantKind(t *testing.T) {
	r := &RunReport{}
	r.addError(KindValidation, "rec1", errors.New("bad"))
	r.addError(KindValidation, "rec2", errors.New("bad"))
	r.addError(KindNetwork, "", errors.New("timeout"))

	assert.Equal(t, "2 records failed validation", r.userMessage())
}

func TestUserMessageEmptyWithoutErrors(t *testing.T) {
	r := &RunReport{}
	assert.Empty(t, r.userMessage())
}

func TestRecordsSynced(t *testing.T) {
	r := &RunReport{Added: 3, Updated: 2, Deleted: 5}
	assert.Equal(t, 5, r.RecordsSynced(), "deletions do not count toward usage")
}
