package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelDropsWhenFull(t *testing.T) {
	c := NewChannel(1)
	c.Emit(Event{Kind: Info, Text: "first"})
	c.Emit(Event{Kind: Info, Text: "second"})

	require.Len(t, c.C, 1)
	assert.Equal(t, "first", (<-c.C).Text)
}

func TestMulti(t *testing.T) {
	var a, b []Event
	m := NewMulti(Func(func(ev Event) { a = append(a, ev) }))
	unsubscribe := m.Subscribe(Func(func(ev Event) { b = append(b, ev) }))

	m.Emit(Event{Kind: ChatModified, Data1: 12})
	unsubscribe()
	m.Emit(Event{Kind: ContactsChanged})

	require.Len(t, a, 2)
	require.Len(t, b, 1)
	assert.Equal(t, int64(12), b[0].Data1)
	assert.Equal(t, "contacts-changed", a[1].Kind.String())
}
