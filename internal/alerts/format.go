package alerts

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Operation describes one committed or rejected position operation.
type Operation struct {
	Name     string
	Position solana.PublicKey
	Market   solana.PublicKey
	Detail   string
	Err      error
}

func FormatOperation(op Operation) string {
	var b strings.Builder
	if op.Err != nil {
		fmt.Fprintf(&b, "position %s failed", op.Name)
	} else {
		fmt.Fprintf(&b, "position %s ok", op.Name)
	}
	fmt.Fprintf(&b, "\nposition: %s\nmarket: %s", op.Position, op.Market)
	if op.Detail != "" {
		fmt.Fprintf(&b, "\n%s", op.Detail)
	}
	if op.Err != nil {
		fmt.Fprintf(&b, "\nerror: %v", op.Err)
	}
	return b.String()
}
