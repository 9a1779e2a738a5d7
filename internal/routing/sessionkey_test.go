package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveChannelKey_AgentScopeDeterminism(t *testing.T) {
	a, err := ResolveChannelKey(ChannelKeyInput{AgentID: "My-Agent", Scope: ScopeAgent})
	require.NoError(t, err)
	b, err := ResolveChannelKey(ChannelKeyInput{AgentID: "  my-agent  ", Scope: ScopeAgent})
	require.NoError(t, err)

	assert.Equal(t, "agent:my-agent:matrix:main", a.Key)
	assert.Equal(t, a.Key, b.Key)
	assert.Empty(t, a.ParentKey)
}

func TestResolveChannelKey_RoomScope(t *testing.T) {
	r, err := ResolveChannelKey(ChannelKeyInput{
		AgentID: "main", Channel: "Matrix", Scope: ScopeRoom, Room: " !Ops:Example.Org ",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent:main:matrix:channel:!ops:example.org", r.Key)

	_, err = ResolveChannelKey(ChannelKeyInput{AgentID: "main", Scope: ScopeRoom})
	assert.Error(t, err)
}

func TestResolveChannelKey_ThreadDerivesChildKey(t *testing.T) {
	r, err := ResolveChannelKey(ChannelKeyInput{
		AgentID: "main", Scope: ScopeRoom, Room: "ops", ThreadID: "T42",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent:main:matrix:channel:ops:thread:t42", r.Key)
	assert.Equal(t, "agent:main:matrix:channel:ops", r.ParentKey)
}

func TestResolveChannelKey_DirectNeverThreadScoped(t *testing.T) {
	r, err := ResolveChannelKey(ChannelKeyInput{
		AgentID: "main", Scope: ScopeDirect, User: "Alice", ThreadID: "t1",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent:main:matrix:direct:alice", r.Key)
	assert.Empty(t, r.ParentKey)
}

func TestParseSessionKey(t *testing.T) {
	p := ParseSessionKey("agent:main:subagent:researcher")
	require.NotNil(t, p)
	assert.Equal(t, "main", p.AgentID)
	assert.Equal(t, "subagent", p.Scope)
	assert.Equal(t, []string{"researcher"}, p.Qualifiers)

	assert.Nil(t, ParseSessionKey("bogus"))
	assert.Nil(t, ParseSessionKey("agent:main"))
	assert.Nil(t, ParseSessionKey("session:main:main"))
}

func TestAgentIDFromKey(t *testing.T) {
	assert.Equal(t, "ops", AgentIDFromKey("agent:Ops:main"))
	assert.Equal(t, DefaultAgentID, AgentIDFromKey("not-a-key"))
}

func TestKeyPredicates(t *testing.T) {
	assert.True(t, IsSubagentKey(SubagentKey("main", "worker-1")))
	assert.False(t, IsSubagentKey(AgentMainKey("main")))
	assert.True(t, IsCronKey(CronKey("main", "job-9")))
	assert.False(t, IsCronKey("agent:main:subagent:x"))
}

func TestNormalizeAgentID(t *testing.T) {
	assert.Equal(t, "main", NormalizeAgentID("  "))
	assert.Equal(t, "copilot", NormalizeAgentID(" Copilot "))
}
