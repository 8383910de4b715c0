package scenario

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionType_IsKnown(t *testing.T) {
	tests := []struct {
		name string
		tag  ActionType
		want bool
	}{
		{"click", ActionClick, true},
		{"type", ActionTypeText, true},
		{"waitForTimeout", ActionWaitForTimeout, true},
		{"setValue", ActionSetValue, true},
		{"navigate", ActionNavigate, true},
		{"unknown tag", ActionType("dragAndDrop"), false},
		{"empty tag", ActionType(""), false},
		{"wrong case", ActionType("Click"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tag.IsKnown())
		})
	}
}

func TestActionType_IsWait(t *testing.T) {
	assert.True(t, ActionWait.IsWait())
	assert.True(t, ActionWaitForTimeout.IsWait())
	assert.False(t, ActionWaitForSelector.IsWait())
	assert.False(t, ActionClick.IsWait())
}

func TestAction_Times(t *testing.T) {
	assert.Equal(t, 1, Action{}.Times())
	assert.Equal(t, 1, Action{Repeat: -4}.Times())
	assert.Equal(t, 3, Action{Repeat: 3}.Times())
}

func TestAction_WaitDuration(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		want    time.Duration
		wantErr bool
	}{
		{"delay wins", Action{Delay: time.Second, Value: "50"}, time.Second, false},
		{"milliseconds value", Action{Value: "250"}, 250 * time.Millisecond, false},
		{"duration value", Action{Value: "1.5s"}, 1500 * time.Millisecond, false},
		{"empty", Action{}, 0, false},
		{"garbage", Action{Value: "soon"}, 0, true},
		{"negative ms", Action{Value: "-5"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.action.WaitDuration()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAction_Describe(t *testing.T) {
	assert.Equal(t, "Buy now", Action{Type: ActionClick, Selector: "#buy", Description: "Buy now"}.Describe())
	assert.Equal(t, "click #buy", Action{Type: ActionClick, Selector: "#buy"}.Describe())
	assert.Equal(t, "scroll", Action{Type: ActionScroll}.Describe())
}

func TestScript_Split(t *testing.T) {
	script := Script{
		{Type: ActionNavigate, Delay: 100 * time.Millisecond},
		{Type: ActionClick, Selector: "#buy"},
		{Type: ActionNavigate, Value: "https://example.com/cart"},
		{Type: ActionScreenshot},
	}

	warmup, actions := script.Split()
	require.Len(t, warmup, 1)
	require.Len(t, actions, 3)
	assert.Equal(t, ActionClick, actions[0].Type)
	assert.Equal(t, ActionNavigate, actions[1].Type)

	// appending to the warm-up must not clobber the executed actions
	warmup = append(warmup, Action{Type: ActionWait})
	assert.Equal(t, ActionClick, actions[0].Type)
}

func TestScript_SplitWithoutNavigate(t *testing.T) {
	warmup, actions := Script{{Type: ActionClick}}.Split()
	assert.Empty(t, warmup)
	assert.Len(t, actions, 1)
}

func TestScript_UnknownTypes(t *testing.T) {
	script := Script{{Type: ActionClick}, {Type: "teleport"}, {Type: ActionHover}, {Type: ""}}
	assert.Equal(t, []int{1, 3}, script.UnknownTypes())
}

func TestScript_Validate(t *testing.T) {
	assert.NoError(t, Script{{Type: ActionClick, Repeat: 2}}.Validate())
	assert.ErrorIs(t, Script{{Type: ActionClick, Repeat: -1}}.Validate(), ErrInvalidAction)
	assert.ErrorIs(t, Script{{Type: ActionClick, Delay: -time.Second}}.Validate(), ErrInvalidAction)
}

func TestScript_Clone(t *testing.T) {
	orig := Script{{Type: ActionClick, Selector: "#a"}}
	clone := orig.Clone()
	clone[0].Selector = "#b"
	assert.Equal(t, "#a", orig[0].Selector)
	assert.Nil(t, Script(nil).Clone())
}
