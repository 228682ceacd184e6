package output

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/authcoord/pkg/coordinator"
)

// WriteAccountTable lists accounts in provider order. The first account is
// the one silent acquisition uses and is marked with "*".
func WriteAccountTable(w io.Writer, accounts []coordinator.Account) {
	if len(accounts) == 0 {
		_, _ = fmt.Fprintln(w, "No cached accounts. Run 'authctl login' to sign in.")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "DEFAULT\tUSERNAME\tISSUER\tID")
	for i, a := range accounts {
		marker := ""
		if i == 0 {
			marker = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", marker, orDash(a.Username), orDash(a.Issuer), a.ID)
	}
	_ = tw.Flush()
}

// WriteTokenTable summarizes a token result without printing the token.
func WriteTokenTable(w io.Writer, r *coordinator.TokenResult) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "USERNAME\tTYPE\tSCOPES\tEXPIRES")
	_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", orDash(r.Account.Username), orDash(r.TokenType), orDash(strings.Join(r.Scopes, " ")), formatTime(r.ExpiresOn))
	_ = tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
