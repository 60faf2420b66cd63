package targeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_CodePoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{name: "host event", event: NewEvent("launch"), want: "local#app#launch"},
		{name: "sdk event", event: SDKEvent("update"), want: "com.apptentive#app#update"},
		{
			name:  "interaction event",
			event: InteractionEvent("submit", "Survey", "abc"),
			want:  "com.apptentive#Survey#submit",
		},
		{name: "escapes separators", event: NewEvent("a#b/c%d"), want: "local#app#a%23b%2Fc%25d"},
		{name: "zero vendor defaults to local", event: Event{Name: "x"}, want: "local#app#x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.event.CodePoint())
		})
	}
}
