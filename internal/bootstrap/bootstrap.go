// Package bootstrap renders the instance bootstrap script. The script is built
// from named parameters, one of which (the database host) is only known after
// the database exists, so rendering is chained on a deferred value.
package bootstrap

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/lex00/twotier-aws-go/internal/deferred"
)

// ErrMissingParam is returned when a required parameter is empty.
var ErrMissingParam = errors.New("bootstrap parameter missing")

// CloudWatchAgentCtl is the control binary of the CloudWatch agent.
const CloudWatchAgentCtl = "/opt/aws/amazon-cloudwatch-agent/bin/amazon-cloudwatch-agent-ctl"

// Params are the substitution points of the script.
type Params struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBName     string
	DBPort     int

	AppUser     string
	AppDir      string
	ServiceName string

	// CloudWatchConfig is the agent config path on the instance image.
	CloudWatchConfig string
	// ManageCloudWatch fetches the agent config and starts the agent.
	ManageCloudWatch bool
	// DisableLocalDB stops a database service baked into the image.
	DisableLocalDB bool
}

func (p Params) validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"DBUser", p.DBUser},
		{"DBPassword", p.DBPassword},
		{"DBHost", p.DBHost},
		{"DBName", p.DBName},
		{"AppUser", p.AppUser},
		{"AppDir", p.AppDir},
		{"ServiceName", p.ServiceName},
	} {
		if f.value == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingParam, f.name))
		}
	}
	if p.ManageCloudWatch && p.CloudWatchConfig == "" {
		errs = append(errs, fmt.Errorf("%w: CloudWatchConfig", ErrMissingParam))
	}
	return errors.Join(errs...)
}

// Script is a rendered bootstrap script.
type Script string

const scriptTpl = `#!/bin/bash
set -euo pipefail
{{- if .DisableLocalDB }}

systemctl disable postgresql || true
systemctl stop postgresql || true
{{- end }}

cat > {{ printf "%s/.env" .AppDir | sharg }} <<'ENV'
POSTGRES_USER={{ .DBUser | shquote }}
POSTGRES_PASSWORD={{ .DBPassword | shquote }}
POSTGRES_HOST={{ .DBHost | shquote }}
POSTGRES_PORT={{ .DBPort }}
POSTGRES_DB={{ .DBName | shquote }}
ENV
chown {{ printf "%s:%s" .AppUser .AppUser | sharg }} {{ printf "%s/.env" .AppDir | sharg }}
chmod 600 {{ printf "%s/.env" .AppDir | sharg }}

systemctl restart {{ .ServiceName | sharg }}
{{- if .ManageCloudWatch }}

{{ .AgentCtl }} -a fetch-config -m ec2 -c {{ printf "file:%s" .CloudWatchConfig | sharg }} -s
{{ .AgentCtl }} -a start
{{- end }}
`

var scriptTemplate = template.Must(template.New("bootstrap").Funcs(funcMap()).Parse(scriptTpl))

func funcMap() template.FuncMap {
	funcs := sprig.TxtFuncMap()
	funcs["shquote"] = shellQuote
	funcs["sharg"] = shellArg
	return funcs
}

// shellQuote wraps s in single quotes. Embedded single quotes close the
// quoting, emit an escaped quote and reopen it.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// shellArg returns s unchanged when it holds only characters the shell reads
// literally, and quoted otherwise.
func shellArg(s string) string {
	if s != "" && strings.IndexFunc(s, unsafeShellRune) < 0 {
		return s
	}
	return shellQuote(s)
}

func unsafeShellRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("@%+=:,./_-", r):
		return false
	}
	return true
}

// Render produces the script for fully known parameters.
func Render(p Params) (Script, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	if p.DBPort == 0 {
		p.DBPort = 5432
	}

	data := struct {
		Params
		AgentCtl string
	}{Params: p, AgentCtl: CloudWatchAgentCtl}

	var buf bytes.Buffer
	if err := scriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering bootstrap script: %w", err)
	}
	return Script(buf.String()), nil
}

// Resolve renders the script once the database address is known. The address
// is joined with the credentials before the single render call, so the
// script is computed exactly once and a failure of the address is passed
// through with its origin.
func Resolve(addr deferred.Output[string], base Params) deferred.Output[Script] {
	joined := deferred.All(
		addr,
		deferred.Resolved(base.DBUser),
		deferred.Resolved(base.DBPassword),
		deferred.Resolved(base.DBName),
	)
	return deferred.ApplyErr(joined, func(values []any) (Script, error) {
		p := base
		p.DBHost = values[0].(string)
		p.DBUser = values[1].(string)
		p.DBPassword = values[2].(string)
		p.DBName = values[3].(string)
		return Render(p)
	})
}

// Encoding is the transport encoding of user data.
type Encoding int

const (
	// EncodingRaw passes the script as is.
	EncodingRaw Encoding = iota
	// EncodingBase64 base64-encodes the script, as launch templates require.
	EncodingBase64
)

func (e Encoding) String() string {
	if e == EncodingBase64 {
		return "base64"
	}
	return "raw"
}

// UserData is a script ready to be attached to an instance or launch template.
type UserData struct {
	Script   Script
	Encoding Encoding
}

// Encoded returns the script in its transport encoding.
func (u UserData) Encoded() string {
	if u.Encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString([]byte(u.Script))
	}
	return string(u.Script)
}

// NewUserData wraps a deferred script.
func NewUserData(script deferred.Output[Script], enc Encoding) deferred.Output[UserData] {
	return deferred.Apply(script, func(s Script) UserData {
		return UserData{Script: s, Encoding: enc}
	})
}
