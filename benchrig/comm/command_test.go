package comm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandString(t *testing.T) {
	assert.Equal(t, "ls -la /tmp", CommandLine("ls -la /tmp").String())
	assert.Equal(t, "ls -la /tmp", CommandArgs("ls", "-la", "/tmp").String())
}

func TestCommandStringQuotesTokens(t *testing.T) {
	assert.Equal(t, "cat '/tmp/a b.txt'", CommandArgs("cat", "/tmp/a b.txt").String())
	assert.Equal(t, `rm 'it'\''s'`, CommandArgs("rm", "it's").String())
	assert.Equal(t, "printf ''", CommandArgs("printf", "").String())

	// Opaque lines are the caller's responsibility and pass through.
	assert.Equal(t, "cat /tmp/a b.txt", CommandLine("cat /tmp/a b.txt").String())
}

func TestCommandArgs(t *testing.T) {
	assert.Equal(t, []string{"ls", "-la", "/tmp"}, CommandLine("ls  -la   /tmp").Args())
	assert.Equal(t, []string{"echo", "hello world"}, CommandArgs("echo", "hello world").Args())
}

func TestCommandEmpty(t *testing.T) {
	assert.True(t, CommandLine("").Empty())
	assert.True(t, CommandLine("   ").Empty())
	assert.False(t, CommandLine("true").Empty())
	assert.False(t, CommandArgs("true").Empty())
}

func TestEnvironmentList(t *testing.T) {
	env := Environment{"ZED": "1", "ALPHA": "two words", "MID": ""}
	assert.Equal(t, []string{"ALPHA=two words", "MID=", "ZED=1"}, env.List())
}

func TestEnvironmentPrefix(t *testing.T) {
	env := Environment{"B": "2", "A": "1"}
	assert.Equal(t, "A=1 B=2", env.Prefix())
	assert.Equal(t, "", Environment{}.Prefix())
}
