package api

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewIdempotencyKey mints the key for one redemption attempt: subject id,
// capture timestamp and a random UUID. A key is minted exactly once per
// accepted decode; any retry of that attempt's request must present the same
// key so the server can collapse duplicates into one effect. A bare counter
// would not survive process restarts, hence the UUID component.
func NewIdempotencyKey(subjectID int64) string {
	return fmt.Sprintf("%d-%d-%s", subjectID, time.Now().UnixMilli(), uuid.NewString())
}
