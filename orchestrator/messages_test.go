package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/model"
)

func workers(t *testing.T, names ...string) []core.Agent {
	t.Helper()
	out := make([]core.Agent, 0, len(names))
	for _, n := range names {
		a, err := agent.NewReasoningAgent(core.AgentConfig{Name: n}, model.NewMockModel("m", "mock"), nil, func(o *agent.Options) {
			o.ID = "id-" + n
		})
		require.NoError(t, err)
		out = append(out, a)
	}
	return out
}

func TestParseAssignments(t *testing.T) {
	team := workers(t, "lead", "historian", "analyst")
	ws := team[1:]

	tests := []struct {
		name string
		text string
		want map[string]string
	}{
		{
			name: "json by id",
			text: `{"assignments":[{"agent_id":"id-analyst","subtask":"crunch numbers"}]}`,
			want: map[string]string{"id-analyst": "crunch numbers"},
		},
		{
			name: "fenced json by name",
			text: "Plan:\n```json\n{\"assignments\":[{\"agent\":\"Historian\",\"task\":\"dates\"}]}\n```",
			want: map[string]string{"id-historian": "dates"},
		},
		{
			name: "lines with bullets",
			text: "- id-historian: find dates\n* analyst: compare figures\nunrelated: skip\nno separator here",
			want: map[string]string{"id-historian": "find dates", "id-analyst": "compare figures"},
		},
		{
			name: "merged subtasks",
			text: "historian: first\nhistorian: second",
			want: map[string]string{"id-historian": "first\nsecond"},
		},
		{
			name: "coordinator and unknown ignored",
			text: `{"assignments":[{"agent_id":"id-lead","subtask":"self"},{"agent_id":"ghost","subtask":"boo"}]}`,
			want: map[string]string{},
		},
		{
			name: "empty assignments",
			text: `{"assignments": []}`,
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAssignments(tt.text, "id-lead", append([]core.Agent{team[0]}, ws...))
			m := make(map[string]string, len(got))
			for _, a := range got {
				m[a.Agent.ID()] = a.Subtask
			}
			assert.Equal(t, tt.want, m)
		})
	}
}

func TestParseAssignments_WorkerOrder(t *testing.T) {
	ws := workers(t, "a", "b")
	got := ParseAssignments("b: second\na: first", "lead", ws)
	require.Len(t, got, 2)
	assert.Equal(t, "id-a", got[0].Agent.ID())
	assert.Equal(t, "id-b", got[1].Agent.ID())
}
