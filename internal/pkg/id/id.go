package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	node *snowflake.Node
	once sync.Once
	err  error
)

// Init configures the snowflake node. Calling it more than once has no effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// Correlation returns a time-ordered identifier shared by every delivery of one event.
func Correlation() string {
	if Init(1) != nil {
		return "cor_" + uuid.NewString()
	}
	return "cor_" + strconv.FormatInt(node.Generate().Int64(), 36)
}

// New returns a prefixed random identifier, e.g. New("evt") -> "evt_<uuid>".
func New(prefix string) string {
	return prefix + "_" + uuid.New().String()
}
