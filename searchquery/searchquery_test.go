package searchquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imap "github.com/outpostmail/mailkit"
)

func TestCompile_SimpleAnd(t *testing.T) {
	q := And(HasFlag(imap.FlagSeen), Larger(1000))
	c := Compile(q)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, c.Flag)
	assert.Equal(t, int64(1000), c.Larger)
}

func TestCompile_Or_TwoChildren(t *testing.T) {
	q := Or(HasFlag(imap.FlagSeen), HasFlag(imap.FlagFlagged))
	c := Compile(q)
	require.Len(t, c.Or, 1)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, c.Or[0][0].Flag)
	assert.Equal(t, []imap.Flag{imap.FlagFlagged}, c.Or[0][1].Flag)
}

func TestCompile_Or_ThreeChildrenFoldsRight(t *testing.T) {
	q := Or(BodyContains("a"), BodyContains("b"), BodyContains("c"))
	c := Compile(q)
	require.Len(t, c.Or, 1)
	assert.Equal(t, []string{"a"}, c.Or[0][0].Body)
	require.Len(t, c.Or[0][1].Or, 1)
	assert.Equal(t, []string{"b"}, c.Or[0][1].Or[0][0].Body)
	assert.Equal(t, []string{"c"}, c.Or[0][1].Or[0][1].Body)
}

func TestCompile_Not(t *testing.T) {
	q := Not(HasFlag(imap.FlagSeen))
	c := Compile(q)
	require.Len(t, c.Not, 1)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, c.Not[0].Flag)
}

func TestOptimize_FlattensNestedAnd(t *testing.T) {
	q := And(And(HasFlag(imap.FlagSeen), Larger(10)), Smaller(100))
	opt := Optimize(q)
	and, ok := opt.(andQuery)
	require.True(t, ok)
	assert.Len(t, and.children, 3)
}

func TestOptimize_AbsorbsAllInAnd(t *testing.T) {
	q := And(All(), HasFlag(imap.FlagSeen))
	opt := Optimize(q)
	_, isLeaf := opt.(leaf)
	assert.True(t, isLeaf)
}

func TestOptimize_OrCollapsesToAll(t *testing.T) {
	q := Or(HasFlag(imap.FlagSeen), All())
	opt := Optimize(q)
	assert.Equal(t, All(), opt)
}

func TestOptimize_EliminatesDoubleNegation(t *testing.T) {
	q := Not(Not(HasFlag(imap.FlagSeen)))
	opt := Optimize(q)
	l, ok := opt.(leaf)
	require.True(t, ok)
	assert.Equal(t, "flag:\\Seen", l.key)
}

func TestOptimize_DedupesIdenticalLeaves(t *testing.T) {
	q := And(HasFlag(imap.FlagSeen), HasFlag(imap.FlagSeen))
	opt := Optimize(q)
	_, isLeaf := opt.(leaf)
	assert.True(t, isLeaf)
}

func TestOptimize_EmptyAndIsAll(t *testing.T) {
	opt := Optimize(And())
	assert.Equal(t, All(), opt)
}
