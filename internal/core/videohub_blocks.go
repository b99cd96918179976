package core

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/moschopsuk/ndi-router/internal/routing"
)

// protocol version announced in the preamble.
const videohubProtocolVersion = "2.7"

// lock states on the wire. The owned/locked distinction depends on
// the observing session, hence the self parameter of lockChar.
const (
	lockCharUnlocked = "U"
	lockCharOwned    = "O"
	lockCharLocked   = "L"
	lockCharForce    = "F"
)

func lockChar(owner uuid.UUID, self uuid.UUID) string {
	switch owner {
	case uuid.Nil:
		return lockCharUnlocked
	case self:
		return lockCharOwned
	default:
		return lockCharLocked
	}
}

func blockPreamble() string {
	return "PROTOCOL PREAMBLE:\n" +
		"Version: " + videohubProtocolVersion + "\n\n"
}

func blockDevice(modelName string, inputs int, outputs int) string {
	var b strings.Builder
	b.WriteString("VIDEOHUB DEVICE:\n")
	b.WriteString("Device present: true\n")
	fmt.Fprintf(&b, "Model name: %s\n", modelName)
	fmt.Fprintf(&b, "Video inputs: %d\n", inputs)
	b.WriteString("Video processing units: 0\n")
	fmt.Fprintf(&b, "Video outputs: %d\n", outputs)
	b.WriteString("Video monitoring outputs: 0\n")
	b.WriteString("Serial ports: 0\n\n")
	return b.String()
}

func blockInputLabels(inputs []routing.Input) string {
	var b strings.Builder
	b.WriteString("INPUT LABELS:\n")
	for i, in := range inputs {
		fmt.Fprintf(&b, "%d %s\n", i, in.Label)
	}
	b.WriteString("\n")
	return b.String()
}

func blockOutputLabels(outputs []routing.Output) string {
	var b strings.Builder
	b.WriteString("OUTPUT LABELS:\n")
	for i, out := range outputs {
		fmt.Fprintf(&b, "%d %s\n", i, out.Label)
	}
	b.WriteString("\n")
	return b.String()
}

func blockLocks(outputs []routing.Output, self uuid.UUID) string {
	var b strings.Builder
	b.WriteString("VIDEO OUTPUT LOCKS:\n")
	for i, out := range outputs {
		fmt.Fprintf(&b, "%d %s\n", i, lockChar(out.LockOwner, self))
	}
	b.WriteString("\n")
	return b.String()
}

func blockRouting(outputs []routing.Output) string {
	var b strings.Builder
	b.WriteString("VIDEO OUTPUT ROUTING:\n")
	for i, out := range outputs {
		if out.Input == routing.Unrouted {
			continue
		}
		fmt.Fprintf(&b, "%d %d\n", i, out.Input)
	}
	b.WriteString("\n")
	return b.String()
}

func fragmentRouting(output int, input int) string {
	return fmt.Sprintf("VIDEO OUTPUT ROUTING:\n%d %d\n\n", output, input)
}

func fragmentOutputLabel(output int, label string) string {
	return fmt.Sprintf("OUTPUT LABELS:\n%d %s\n\n", output, label)
}

func fragmentInputLabel(input int, label string) string {
	return fmt.Sprintf("INPUT LABELS:\n%d %s\n\n", input, label)
}

func fragmentLock(output int, owner uuid.UUID, self uuid.UUID) string {
	return fmt.Sprintf("VIDEO OUTPUT LOCKS:\n%d %s\n\n", output, lockChar(owner, self))
}
