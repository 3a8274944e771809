package commands

import (
	"bytes"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/kmsenv/internal/config"
	kerrors "github.com/systmms/kmsenv/internal/errors"
	"github.com/systmms/kmsenv/internal/metrics"
	"github.com/systmms/kmsenv/tests/fakes"
	"github.com/systmms/kmsenv/tests/testutil"
)

const testKeyARN = "arn:aws:kms:eu-west-1:123456789012:key/1234abcd-12ab-34cd-56ef-1234567890ab"

type testEnv struct {
	app    *App
	kms    *fakes.FakeKMSClient
	sts    *fakes.FakeSTSClient
	logger *testutil.TestLogger
	dir    string
	vars   map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	te := &testEnv{
		kms:    fakes.NewFakeKMSClient(),
		sts:    &fakes.FakeSTSClient{Account: "123456789012", ARN: "arn:aws:iam::123456789012:user/dev"},
		logger: testutil.NewTestLogger(t),
		dir:    t.TempDir(),
		vars:   map[string]string{},
	}
	te.kms.AddKey(testKeyARN, "alias/ecs")
	te.app = &App{
		Config:    &config.Config{Logger: te.logger.Logger, Definition: &config.Definition{}},
		Metrics:   metrics.New(),
		KMSClient: te.kms,
		STSClient: te.sts,
		Getenv:    func(k string) string { return te.vars[k] },
		Environ:   func() []string { return nil },
	}
	return te
}

func (te *testEnv) path() string {
	return filepath.Join(te.dir, ".env")
}

// run executes cmd with args and returns what it wrote to stdout.
func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitAddShow(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	path := te.path()

	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "--file", path)
	require.NoError(t, err)

	content := testutil.ReadFile(t, path)
	lines := strings.Split(content, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "KMS_DATA_KEY="))
	assert.Equal(t, "AWS_REGION=eu-west-1", lines[1])
	te.logger.AssertContains(t, "Initialized")

	_, err = run(t, NewAddCommand(te.app), "--file", path, "DB_PASSWORD=hunter2", "API_TOKEN=a$b")
	require.NoError(t, err)

	content = testutil.ReadFile(t, path)
	assert.NotContains(t, content, "hunter2")
	assert.Contains(t, content, "DB_PASSWORD=secure:")

	out, err := run(t, NewShowCommand(te.app), "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "DB_PASSWORD=hunter2\n")
	assert.Contains(t, out, "API_TOKEN=a$b\n")
	assert.Contains(t, out, "AWS_REGION=eu-west-1")

	te.logger.AssertNotContains(t, "hunter2")
}

func TestInit_KeyIDFromEnvironment(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	te.vars[config.EnvKeyID] = "alias/ecs"
	te.vars[config.EnvFile] = te.path()

	_, err := run(t, NewInitCommand(te.app))
	require.NoError(t, err)
	assert.Contains(t, testutil.ReadFile(t, te.path()), "KMS_DATA_KEY=")
}

func TestInit_RequiresKeyID(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	_, err := run(t, NewInitCommand(te.app), "--file", te.path())

	var ce kerrors.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "key_id", ce.Field)
	assert.Equal(t, 0, te.kms.CallCount(fakes.OpGenerateDataKey))
}

func TestInit_WarnsAboutStaleValues(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	path := te.path()

	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", path)
	require.NoError(t, err)
	_, err = run(t, NewAddCommand(te.app), "-f", path, "FOO=bar")
	require.NoError(t, err)

	_, err = run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", path)
	require.NoError(t, err)
	te.logger.AssertContains(t, "1 encrypted value(s) belong to the previous data key")
}

func TestAdd_WithoutInit(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	testutil.WriteFile(t, te.dir, ".env", "FOO=bar\n")

	_, err := run(t, NewAddCommand(te.app), "--file", te.path(), "BAR=baz")
	require.Error(t, err)
	assert.Equal(t, kerrors.ExitMissingKey, kerrors.ExitCode(err))
}

func TestAdd_RequiresArgs(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	_, err := run(t, NewAddCommand(te.app), "--file", te.path())
	assert.Error(t, err)
}

func TestAdd_MalformedEntry(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", te.path())
	require.NoError(t, err)
	before := testutil.ReadFile(t, te.path())

	_, err = run(t, NewAddCommand(te.app), "-f", te.path(), "GOOD=1", "BAD")
	assert.Equal(t, kerrors.ExitFormat, kerrors.ExitCode(err))
	assert.Equal(t, before, testutil.ReadFile(t, te.path()), "file untouched on error")
}

func TestAdd_RedactsRejectedEntries(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", te.path())
	require.NoError(t, err)

	for _, entry := range []string{"=hunter2", "KMS_DATA_KEY=hunter2"} {
		_, err = run(t, NewAddCommand(te.app), "-f", te.path(), entry)
		require.Error(t, err)
		assert.Equal(t, kerrors.ExitFormat, kerrors.ExitCode(err))
		assert.NotContains(t, err.Error(), "hunter2")
		assert.Contains(t, err.Error(), "[REDACTED]")
	}
}

func TestShow_MissingFile(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	_, err := run(t, NewShowCommand(te.app), "--file", filepath.Join(te.dir, "missing.env"))
	require.Error(t, err)
	assert.Equal(t, kerrors.ExitGeneric, kerrors.ExitCode(err))
}

func TestDecrypt_FromEnvironment(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	path := te.path()
	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", path)
	require.NoError(t, err)
	_, err = run(t, NewAddCommand(te.app), "-f", path, `QUOTED=say "hi" $HOME`)
	require.NoError(t, err)

	environ := append(strings.Split(testutil.ReadFile(t, path), "\n"), "PLAIN=visible", "PATH=/usr/bin")
	te.app.Environ = func() []string { return environ }

	out, err := run(t, NewDecryptCommand(te.app))
	require.NoError(t, err)
	assert.Equal(t, `export QUOTED="say \"hi\" \$HOME";echo "Decrypted QUOTED";`+"\n", out)
}

func TestDecrypt_NoDataKey(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	te.app.Environ = func() []string { return []string{"FOO=secure:00$11"} }

	out, err := run(t, NewDecryptCommand(te.app))
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 0, te.kms.CallCount(fakes.OpDecrypt))
}

func TestDecrypt_FromFile(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	path := te.path()
	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", path)
	require.NoError(t, err)
	_, err = run(t, NewAddCommand(te.app), "-f", path, "B=2", "A=1")
	require.NoError(t, err)

	out, err := run(t, NewDecryptCommand(te.app), "--from-file", path)
	require.NoError(t, err)
	assert.Equal(t, "export B=\"2\";echo \"Decrypted B\";\nexport A=\"1\";echo \"Decrypted A\";\n", out)
}

func TestDecrypt_FromFileErrors(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)

	_, err := run(t, NewDecryptCommand(te.app), "--from-file", filepath.Join(te.dir, "nope"))
	assert.Equal(t, kerrors.ExitGeneric, kerrors.ExitCode(err))

	bad := testutil.WriteFile(t, te.dir, "bad.env", "NOT A PAIR\n")
	_, err = run(t, NewDecryptCommand(te.app), "--from-file", bad)
	assert.Equal(t, kerrors.ExitFormat, kerrors.ExitCode(err))
}

func TestDecrypt_RejectedDataKey(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	te.app.Environ = func() []string {
		return []string{"KMS_DATA_KEY=bm90LWEtcmVhbC1ibG9i", "FOO=secure:00$11"}
	}

	_, err := run(t, NewDecryptCommand(te.app))
	assert.Equal(t, kerrors.ExitDecryption, kerrors.ExitCode(err))
}

func TestExec(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	te := newTestEnv(t)
	path := te.path()
	_, err := run(t, NewInitCommand(te.app), "--key-id", "alias/ecs", "-f", path)
	require.NoError(t, err)
	_, err = run(t, NewAddCommand(te.app), "-f", path, "DB_PASSWORD=hunter2")
	require.NoError(t, err)

	environ := append(strings.Split(testutil.ReadFile(t, path), "\n"), "PLAIN=visible")
	te.app.Environ = func() []string { return environ }

	out, err := run(t, NewExecCommand(te.app), "--", "sh", "-c", `printf '%s|%s' "$DB_PASSWORD" "$PLAIN"`)
	require.NoError(t, err)
	assert.Equal(t, "hunter2|visible", out)

	_, err = run(t, NewExecCommand(te.app), "--", "sh", "-c", "exit 3")
	assert.Equal(t, 3, kerrors.ExitCode(err))
}

func TestExec_RequiresCommand(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	_, err := run(t, NewExecCommand(te.app))
	assert.Error(t, err)
}

func TestDoctor(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	out, err := run(t, NewDoctorCommand(te.app), "--key-id", "alias/ecs")
	require.NoError(t, err)

	assert.Contains(t, out, "CHECK")
	assert.Contains(t, out, "arn:aws:iam::123456789012:user/dev")
	assert.Contains(t, out, testKeyARN+" [Enabled] in eu-west-1")
	te.logger.AssertContains(t, "All checks passed")
}

func TestDoctor_NoKeyID(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	out, err := run(t, NewDoctorCommand(te.app))
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")
	assert.Equal(t, 0, te.kms.CallCount(fakes.OpDescribeKey))
}

func TestDoctor_Failures(t *testing.T) {
	t.Parallel()

	t.Run("credentials", func(t *testing.T) {
		t.Parallel()

		te := newTestEnv(t)
		te.sts.Err = errors.New("failed to retrieve credentials")

		out, err := run(t, NewDoctorCommand(te.app), "--key-id", "alias/ecs")
		var ue kerrors.UserError
		require.ErrorAs(t, err, &ue)
		assert.Contains(t, ue.Suggestion, "aws configure")
		assert.Contains(t, out, "error")
	})

	t.Run("unknown key", func(t *testing.T) {
		t.Parallel()

		te := newTestEnv(t)
		_, err := run(t, NewDoctorCommand(te.app), "--key-id", "alias/missing")
		assert.Equal(t, kerrors.ExitKeyManagement, kerrors.ExitCode(err))
	})

	t.Run("access denied", func(t *testing.T) {
		t.Parallel()

		te := newTestEnv(t)
		te.kms.AddError(fakes.OpDescribeKey, &smithy.GenericAPIError{Code: "AccessDeniedException"})
		_, err := run(t, NewDoctorCommand(te.app), "--key-id", "alias/ecs")
		assert.Equal(t, kerrors.ExitKeyManagement, kerrors.ExitCode(err))
	})
}

func TestCompletion(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "kmsenv"}
	root.AddCommand(NewCompletionCommand())

	out, err := run(t, root, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "kmsenv")

	_, err = run(t, root, "completion", "tcsh")
	assert.Error(t, err)
}

// -k, -s and -r belong to the root's credential and region flags.
func TestSubcommandsLeaveCredentialShorthandsFree(t *testing.T) {
	t.Parallel()

	te := newTestEnv(t)
	cmds := []*cobra.Command{
		NewInitCommand(te.app),
		NewAddCommand(te.app),
		NewShowCommand(te.app),
		NewDecryptCommand(te.app),
		NewExecCommand(te.app),
		NewDoctorCommand(te.app),
		NewCompletionCommand(),
	}
	for _, cmd := range cmds {
		for _, short := range []string{"k", "s", "r"} {
			assert.Nil(t, cmd.Flags().ShorthandLookup(short), "%s defines -%s", cmd.Name(), short)
		}
	}
}
