package conf

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moschopsuk/ndi-router/internal/logger"
)

func writeTempFile(byts []byte) (string, error) {
	tmpf, err := os.CreateTemp(os.TempDir(), "ndi-router-")
	if err != nil {
		return "", err
	}
	defer tmpf.Close()

	_, err = tmpf.Write(byts)
	if err != nil {
		return "", err
	}

	return tmpf.Name(), nil
}

func TestConfFromFile(t *testing.T) {
	tmpf, err := writeTempFile([]byte(
		"listen: :10990\n" +
			"videoInputs: 32\n" +
			"videoOutputs: 12\n" +
			"discoveryInterval: 2s\n" +
			"ndiExtraIPs: [10.0.0.5]\n"))
	require.NoError(t, err)
	defer os.Remove(tmpf)

	conf, found, err := Load(tmpf)
	require.NoError(t, err)
	require.Equal(t, true, found)

	require.Equal(t, ":10990", conf.ListenAddress)
	require.Equal(t, 32, conf.VideoInputs)
	require.Equal(t, 12, conf.VideoOutputs)
	require.Equal(t, 2*time.Second, conf.DiscoveryInterval)
	require.Equal(t, []string{"10.0.0.5"}, conf.NDIExtraIPs)

	// defaults fill the rest
	require.Equal(t, LogLevel(logger.Info), conf.LogLevel)
	require.Equal(t, "NDI Videohub", conf.DeviceName)
	require.Equal(t, 128, conf.WriteQueueSize)
}

func TestConfOptionalDefaultFile(t *testing.T) {
	conf, found, err := Load("ndi-router.yml")
	require.NoError(t, err)
	require.Equal(t, false, found)
	require.Equal(t, ":9990", conf.ListenAddress)
	require.Equal(t, 16, conf.VideoInputs)
	require.Equal(t, 8, conf.VideoOutputs)
}

func TestConfErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		conf string
		err  string
	}{
		{
			"unknown key",
			"invalid: yes\n",
			"field invalid not found",
		},
		{
			"inputs out of range",
			"videoInputs: 300\n",
			"invalid videoInputs: 300",
		},
		{
			"outputs out of range",
			"videoOutputs: -1\n",
			"invalid videoOutputs: -1",
		},
		{
			"queue not power of two",
			"writeQueueSize: 100\n",
			"writeQueueSize must be a power of two",
		},
		{
			"bad log level",
			"logLevel: verbose\n",
			"invalid log level: 'verbose'",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			tmpf, err := writeTempFile([]byte(ca.conf))
			require.NoError(t, err)
			defer os.Remove(tmpf)

			_, _, err = Load(tmpf)
			require.Error(t, err)
			require.Contains(t, err.Error(), ca.err)
		})
	}
}
