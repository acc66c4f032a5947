package common

import (
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/jeremyhahn/go-puppet-ssl/pkg/app"
	"github.com/jeremyhahn/go-puppet-ssl/pkg/ssl"
)

var (
	notice  = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
)

// InitApp initializes current from params unless a previous command (or a
// test) already did
func InitApp(current *app.App, params *app.InitParams) (*app.App, error) {
	if current != nil && current.Settings != nil {
		return current, nil
	}
	if current == nil {
		current = app.NewApp()
	}
	return current.Init(params)
}

// Prints a green notice line to w
func PrintNotice(w io.Writer, format string, args ...any) {
	notice.Fprintf(w, format+"\n", args...)
}

// Prints a yellow warning line to w
func PrintWarning(w io.Writer, format string, args ...any) {
	warning.Fprintf(w, format+"\n", args...)
}

// Reads STDIN without echo and returns the input
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprintf(os.Stderr, "%s> ", prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PasswordPrompt returns a prompt for App.PasswordPrompt. It returns an
// empty password when STDIN is not a terminal.
func PasswordPrompt(prompt string) func() ([]byte, error) {
	return func() ([]byte, error) {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return nil, nil
		}
		return ReadPassword(prompt)
	}
}

// Prints a human readable summary of cert
func PrintCertificate(w io.Writer, cert *x509.Certificate, digest string) error {
	fingerprint, err := ssl.Fingerprint(cert, digest)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Subject:\t\t%s\n", ssl.Subject(cert))
	fmt.Fprintf(w, "Issuer:\t\t\t%s\n", ssl.Issuer(cert))
	fmt.Fprintf(w, "Serial:\t\t\t%s\n", cert.SerialNumber.Text(16))
	fmt.Fprintf(w, "Not Before:\t\t%s\n", cert.NotBefore.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Not After:\t\t%s\n", cert.NotAfter.UTC().Format(time.RFC3339))
	if names := ssl.SubjectAltNames(cert); len(names) > 0 {
		fmt.Fprintf(w, "Alt Names:\t\t%s\n", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "Fingerprint (%s):\t%s\n", strings.ToUpper(digest), fingerprint)
	return nil
}
