package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventValidateRequiresCoreFields(t *testing.T) {
	base := Event{
		EventID:    "evt-1",
		EventType:  EventAuthorization,
		Timestamp:  time.Unix(1700000000, 0).UTC(),
		AgentID:    "agent-1",
		ResultCode: "ALLOW",
	}
	assert.NoError(t, base.Validate())

	missingID := base
	missingID.EventID = ""
	assert.Error(t, missingID.Validate())

	missingType := base
	missingType.EventType = ""
	assert.Error(t, missingType.Validate())

	missingAgent := base
	missingAgent.AgentID = ""
	assert.Error(t, missingAgent.Validate())

	missingResult := base
	missingResult.ResultCode = ""
	assert.Error(t, missingResult.Validate())
}
