package router

import (
	"fmt"
	"strings"

	"github.com/kilianp07/smartdryer/core/model"
	"github.com/kilianp07/smartdryer/core/transport"
)

// Route is a parsed inbound topic.
type Route struct {
	Serial   string
	Category string
	Sub      string
}

// Kind returns the category label used in logs and metrics, such as
// "command/result".
func (r Route) Kind() string {
	if r.Sub == "" {
		return r.Category
	}
	return r.Category + "/" + r.Sub
}

// ParseTopic splits device/{serial}/{category}[/{sub}]. Only the shape is
// checked here; unknown categories are reported by the router.
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != transport.TopicRoot {
		return Route{}, fmt.Errorf("%w: topic %q", model.ErrDecode, topic)
	}
	r := Route{Serial: parts[1], Category: parts[2]}
	if len(parts) == 4 {
		r.Sub = parts[3]
	}
	if r.Serial == "" || r.Category == "" {
		return Route{}, fmt.Errorf("%w: topic %q", model.ErrDecode, topic)
	}
	return r, nil
}
