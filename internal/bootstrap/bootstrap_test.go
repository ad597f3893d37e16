package bootstrap

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lex00/twotier-aws-go/internal/deferred"
)

func baseParams() Params {
	return Params{
		DBUser:           "csye6225",
		DBPassword:       "it's-secret",
		DBName:           "csye6225",
		DBPort:           5432,
		AppUser:          "webapp",
		AppDir:           "/opt/webapp",
		ServiceName:      "webapp",
		CloudWatchConfig: "/opt/webapp/packer/cloudwatch-config.json",
	}
}

func TestRender_NamedParameters(t *testing.T) {
	p := baseParams()
	p.DBHost = "db.abc123.us-east-1.rds.amazonaws.com"
	script, err := Render(p)
	require.NoError(t, err)

	s := string(script)
	assert.True(t, strings.HasPrefix(s, "#!/bin/bash\n"))
	assert.Contains(t, s, "POSTGRES_HOST='db.abc123.us-east-1.rds.amazonaws.com'")
	assert.Contains(t, s, "POSTGRES_USER='csye6225'")
	assert.Contains(t, s, "POSTGRES_PORT=5432")
	assert.Contains(t, s, `POSTGRES_PASSWORD='it'\''s-secret'`+"\n")
	assert.Contains(t, s, "chown webapp:webapp /opt/webapp/.env\n")
	assert.Contains(t, s, "systemctl restart webapp")
	assert.NotContains(t, s, "amazon-cloudwatch-agent-ctl")
	assert.NotContains(t, s, "postgresql")
	assert.NotContains(t, s, "sed ")
}

func TestRender_QuotesShellArguments(t *testing.T) {
	p := baseParams()
	p.DBHost = "db.internal"
	p.AppDir = "/opt/web app"
	p.ServiceName = "web$app"
	script, err := Render(p)
	require.NoError(t, err)

	s := string(script)
	assert.Contains(t, s, "cat > '/opt/web app/.env' <<'ENV'\n")
	assert.Contains(t, s, "chmod 600 '/opt/web app/.env'\n")
	assert.Contains(t, s, "systemctl restart 'web$app'\n")
}

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in, quoted, arg string
	}{
		{"webapp", "'webapp'", "webapp"},
		{"/opt/webapp/.env", "'/opt/webapp/.env'", "/opt/webapp/.env"},
		{"it's", `'it'\''s'`, `'it'\''s'`},
		{"a b", "'a b'", "'a b'"},
		{"", "''", "''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.quoted, shellQuote(tt.in), tt.in)
		assert.Equal(t, tt.arg, shellArg(tt.in), tt.in)
	}
}

func TestRender_CloudWatchAndLocalDB(t *testing.T) {
	p := baseParams()
	p.DBHost = "db.internal"
	p.ManageCloudWatch = true
	p.DisableLocalDB = true
	script, err := Render(p)
	require.NoError(t, err)

	s := string(script)
	assert.Contains(t, s, "systemctl disable postgresql")
	assert.Contains(t, s, "systemctl stop postgresql")
	assert.Contains(t, s, CloudWatchAgentCtl+" -a fetch-config -m ec2 -c file:/opt/webapp/packer/cloudwatch-config.json -s")
	assert.Contains(t, s, CloudWatchAgentCtl+" -a start")
	assert.Less(t, strings.Index(s, "stop postgresql"), strings.Index(s, "restart webapp"))
}

func TestRender_MissingParams(t *testing.T) {
	_, err := Render(Params{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingParam))
	assert.Contains(t, err.Error(), "DBHost")
	assert.Contains(t, err.Error(), "ServiceName")
}

func TestResolve_SingleAssignment(t *testing.T) {
	addr := deferred.New[string](deferred.Origin{Resource: "RdsInstance", Attribute: "Endpoint.Address"})

	var renders atomic.Int32
	script := deferred.Apply(Resolve(addr, baseParams()), func(s Script) Script {
		renders.Add(1)
		return s
	})

	_, err := script.Value()
	assert.ErrorIs(t, err, deferred.ErrUnresolved)
	assert.Equal(t, []deferred.Origin{{Resource: "RdsInstance", Attribute: "Endpoint.Address"}}, script.Origins())

	require.True(t, addr.Resolve("first.rds.amazonaws.com"))
	assert.False(t, addr.Resolve("second.rds.amazonaws.com"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := script.Await(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(s), "POSTGRES_HOST='first.rds.amazonaws.com'")
	assert.NotContains(t, string(s), "second")
	assert.Equal(t, int32(1), renders.Load())
}

func TestResolve_PropagatesOrigin(t *testing.T) {
	addr := deferred.New[string](deferred.Origin{Resource: "RdsInstance", Attribute: "Endpoint.Address"})
	script := Resolve(addr, baseParams())

	addr.Reject(errors.New("StorageQuotaExceeded"))

	_, err := script.Value()
	var re *deferred.ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "RdsInstance", re.Origin.Resource)
	assert.Contains(t, err.Error(), "StorageQuotaExceeded")
}

func TestUserData_Encoding(t *testing.T) {
	raw := UserData{Script: "#!/bin/bash\necho hi\n", Encoding: EncodingRaw}
	assert.Equal(t, "#!/bin/bash\necho hi\n", raw.Encoded())

	encoded := UserData{Script: raw.Script, Encoding: EncodingBase64}
	decoded, err := base64.StdEncoding.DecodeString(encoded.Encoded())
	require.NoError(t, err)
	assert.Equal(t, string(raw.Script), string(decoded))
	assert.Equal(t, "base64", EncodingBase64.String())
}

func TestNewUserData(t *testing.T) {
	addr := deferred.Resolved("db.internal")
	ud := NewUserData(Resolve(addr, baseParams()), EncodingBase64)
	v, err := ud.Value()
	require.NoError(t, err)
	assert.Equal(t, EncodingBase64, v.Encoding)
	assert.Contains(t, string(v.Script), "db.internal")
}
