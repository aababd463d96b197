package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/core"
)

const senderOrchestrator = "orchestrator"

// Assignment is a sub-task delegated by the hierarchical coordinator.
type Assignment struct {
	Agent   core.Agent
	Subtask string
}

type assignmentPlan struct {
	Assignments []struct {
		AgentID string `json:"agent_id"`
		Agent   string `json:"agent"`
		Subtask string `json:"subtask"`
		Task    string `json:"task"`
	} `json:"assignments"`
}

// ParseAssignments reads the coordinator's decomposition. It accepts a JSON
// object {"assignments":[{"agent_id":"...","subtask":"..."}]} (optionally in
// a fenced block) or "agent_id: subtask" lines. Workers are matched by id or
// by name. Assignments to unknown agents or the coordinator are ignored and
// several sub-tasks for one worker are merged in order. The result follows
// worker order.
func ParseAssignments(text, coordinatorID string, workers []core.Agent) []Assignment {
	byKey := make(map[string]core.Agent, 2*len(workers))
	for _, w := range workers {
		if w.ID() == coordinatorID {
			continue
		}
		byKey[strings.ToLower(w.ID())] = w
		if name := strings.ToLower(w.Config().Name); name != "" {
			if _, taken := byKey[name]; !taken {
				byKey[name] = w
			}
		}
	}

	subtasks := make(map[string][]string)
	add := func(key, subtask string) {
		w, ok := byKey[strings.ToLower(strings.TrimSpace(key))]
		subtask = strings.TrimSpace(subtask)
		if !ok || subtask == "" {
			return
		}
		subtasks[w.ID()] = append(subtasks[w.ID()], subtask)
	}

	if pairs, ok := parsePlanJSON(text); ok {
		for _, p := range pairs {
			add(p[0], p[1])
		}
	} else {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
			key, subtask, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			add(strings.Trim(key, " `*\"'"), subtask)
		}
	}

	var out []Assignment
	for _, w := range workers {
		if list, ok := subtasks[w.ID()]; ok {
			out = append(out, Assignment{Agent: w, Subtask: strings.Join(list, "\n")})
		}
	}
	return out
}

func parsePlanJSON(text string) ([][2]string, bool) {
	block := strings.TrimSpace(text)
	if start := strings.Index(block, "```"); start >= 0 {
		body := block[start+3:]
		if end := strings.Index(body, "```"); end >= 0 {
			block = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(body[:end]), "json"))
		}
	}
	if i, j := strings.Index(block, "{"), strings.LastIndex(block, "}"); i >= 0 && j > i {
		block = block[i : j+1]
	} else {
		return nil, false
	}

	var plan assignmentPlan
	if err := json.Unmarshal([]byte(block), &plan); err != nil || plan.Assignments == nil {
		return nil, false
	}
	pairs := make([][2]string, 0, len(plan.Assignments))
	for _, a := range plan.Assignments {
		key := a.AgentID
		if key == "" {
			key = a.Agent
		}
		sub := a.Subtask
		if sub == "" {
			sub = a.Task
		}
		pairs = append(pairs, [2]string{key, sub})
	}
	return pairs, true
}

func taskMessage(task core.Task) core.Message {
	return core.NewTextMessage(senderOrchestrator, core.RoleUser, task.Description).
		WithMetadata(core.MetaTaskID, task.ID)
}

// handoffMessage passes a sequential step's output to the next agent.
func handoffMessage(task core.Task, prev Step) core.Message {
	text := fmt.Sprintf("Task: %s\n\nResult from %s:\n%s\n\nContinue the task building on this result.",
		task.Description, prev.AgentName, prev.Output.Text())
	return core.NewTextMessage(prev.AgentName, core.RoleUser, text).
		WithMetadata(core.MetaTaskID, task.ID)
}

func decompositionMessage(task core.Task, workers []core.Agent) core.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You coordinate the task below. Split it into sub-tasks for your team.\n\nTask: %s\n\nTeam:\n", task.Description)
	for _, w := range workers {
		cfg := w.Config()
		fmt.Fprintf(&sb, "- %s (%s)", w.ID(), cfg.Name)
		if cfg.Role != "" {
			fmt.Fprintf(&sb, ": %s", cfg.Role)
		}
		if len(cfg.Capabilities) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(cfg.Capabilities, ", "))
		}
		sb.WriteString("\n")
	}
	if len(workers) == 0 {
		sb.WriteString("(no team members, handle the task yourself)\n")
	}
	sb.WriteString(`
Reply with JSON only: {"assignments": [{"agent_id": "<id>", "subtask": "<instructions>"}]}.
Leave out members that are not needed. Include your own preliminary findings in a "notes" field if you have any.`)
	return core.NewTextMessage(senderOrchestrator, core.RoleUser, sb.String()).
		WithMetadata(core.MetaTaskID, task.ID)
}

func subtaskMessage(task core.Task, a Assignment) core.Message {
	text := fmt.Sprintf("Sub-task of %q:\n%s", task.Description, a.Subtask)
	return core.NewTextMessage(senderOrchestrator, core.RoleUser, text).
		WithMetadata(core.MetaTaskID, task.ID).
		WithMetadata(core.MetaSubtask, a.Subtask)
}

// synthesisMessage hands the sub-results back to the coordinator. Without
// sub-results the coordinator synthesizes from its own plan.
func synthesisMessage(task core.Task, plan core.Message, results []Step) core.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Synthesize the final answer for the task: %s\n\n", task.Description)
	if len(results) == 0 {
		sb.WriteString("No sub-tasks were delegated. Use your own findings:\n")
		sb.WriteString(plan.Text())
		sb.WriteString("\n")
	}
	for _, r := range results {
		if r.Succeeded() {
			fmt.Fprintf(&sb, "Result from %s:\n%s\n\n", r.AgentName, r.Output.Text())
			continue
		}
		fmt.Fprintf(&sb, "%s failed (%s): %s\n\n", r.AgentName, r.Kind, r.Error)
	}
	return core.NewTextMessage(senderOrchestrator, core.RoleUser, strings.TrimSpace(sb.String())).
		WithMetadata(core.MetaTaskID, task.ID)
}
