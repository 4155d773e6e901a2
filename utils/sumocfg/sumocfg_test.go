package sumocfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/traffic-console/utils/sumocfg"
)

func write(t *testing.T, dir, name, content string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestParseRelative(t *testing.T) {
	dir := t.TempDir()
	p := write(t, dir, "demo.sumocfg", `<?xml version="1.0" encoding="UTF-8"?>
<configuration>
    <input>
        <net-file value="net/demo.net.xml"/>
        <route-files value="a.rou.xml, b.rou.xml"/>
    </input>
    <time><begin value="0"/></time>
</configuration>`)
	s, err := sumocfg.Parse(p)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "net", "demo.net.xml"), s.NetFile)
	assert.Equal(t, []string{filepath.Join(dir, "a.rou.xml"), filepath.Join(dir, "b.rou.xml")}, s.RouteFiles)
}

func TestParseAbsolute(t *testing.T) {
	dir := t.TempDir()
	net := filepath.Join(dir, "abs.net.xml")
	p := write(t, dir, "demo.sumocfg", `<configuration><input><net-file value="`+net+`"/></input></configuration>`)
	s, err := sumocfg.Parse(p)
	require.NoError(t, err)
	assert.Equal(t, net, s.NetFile)
}

func TestParseMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := sumocfg.Parse(write(t, dir, "a.sumocfg", `<configuration><time/></configuration>`))
	assert.ErrorIs(t, err, sumocfg.ErrNoInput)
	_, err = sumocfg.Parse(write(t, dir, "b.sumocfg", `<configuration><input><route-files value="r.xml"/></input></configuration>`))
	assert.ErrorIs(t, err, sumocfg.ErrNoNetFile)
	_, err = sumocfg.Parse(write(t, dir, "c.sumocfg", `<configuration><input>`))
	assert.Error(t, err)
	_, err = sumocfg.Parse(filepath.Join(dir, "none.sumocfg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
