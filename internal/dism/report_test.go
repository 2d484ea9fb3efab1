package dism_test

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/rocketize/internal/dism"
)

const imageInfoHeader = `
Deployment Image Servicing and Management tool
Version: 10.0.22621.2792

Details for image : E:\sources\install.wim

`

const capabilitiesHeader = `
Deployment Image Servicing and Management tool
Version: 10.0.22621.2792

Image Version: 10.0.22631.2861

Capability listing:

`

const success = "The operation completed successfully.\n"

func imageBlock(index int, name string, size string) string {
	return fmt.Sprintf("Index : %d\nName : %s\nDescription : %s\nSize : %s bytes\n\n", index, name, name, size)
}

func capabilityBlock(id, state string) string {
	return fmt.Sprintf("Capability Identity : %s\nState : %s\n\n", id, state)
}

func TestParseImageInfoBlockCount(t *testing.T) {
	names := []string{"Windows 11 Home", "Windows 11 Education", "Windows 11 Pro"}

	for _, n := range []int{0, 1, 3} {
		t.Run(fmt.Sprintf("%d-images", n), func(t *testing.T) {
			report := imageInfoHeader
			var expected []dism.Image
			for i := 0; i < n; i++ {
				report += imageBlock(i+1, names[i], "1024")
				expected = append(expected, dism.Image{
					Index:       i + 1,
					Name:        names[i],
					Description: names[i],
					SizeBytes:   1024,
				})
			}
			report += success

			info, err := dism.ParseImageInfo(report)
			require.NoError(t, err)
			assert.Equal(t, "10.0.22621.2792", info.ToolVersion)
			assert.Equal(t, `E:\sources\install.wim`, info.ImageFile)
			if diff := cmp.Diff(expected, info.Images); diff != "" {
				t.Errorf("images differ (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseImageInfoKeepsReportedIndexes(t *testing.T) {
	report := imageInfoHeader +
		imageBlock(4, "Windows 11 Pro", "10") +
		imageBlock(2, "Windows 11 Home", "20") +
		success

	info, err := dism.ParseImageInfo(report)
	require.NoError(t, err)
	require.Len(t, info.Images, 2)
	assert.Equal(t, 4, info.Images[0].Index)
	assert.Equal(t, 2, info.Images[1].Index)
}

func TestParseImageInfoFromTool(t *testing.T) {
	raw, err := os.ReadFile("testdata/get-imageinfo.txt")
	require.NoError(t, err)

	info, err := dism.ParseImageInfo(dism.Normalize(string(raw)))
	require.NoError(t, err)
	require.Len(t, info.Images, 3)
	assert.Equal(t, dism.Image{
		Index:       3,
		Name:        "Windows 11 Pro",
		Description: "Windows 11 Pro",
		SizeBytes:   19001918421,
	}, info.Images[2])
}

func TestParseImageInfoStrict(t *testing.T) {
	valid := imageInfoHeader + imageBlock(1, "Windows 11 Pro", "42") + success

	tests := map[string]struct {
		report string
		line   int
	}{
		"empty":                  {"", 1},
		"sentinel-only":          {success, 1},
		"missing-sentinel":       {imageInfoHeader + imageBlock(1, "Windows 11 Pro", "42"), 12},
		"missing-final-newline":  {strings.TrimSuffix(valid, "\n"), 12},
		"trailing-character":     {valid + "x", 13},
		"trailing-line":          {valid + "\n", 13},
		"trailing-text-sentinel": {strings.Replace(valid, "successfully.\n", "successfully. \n", 1), 12},
		"truncated-last-block": {
			imageInfoHeader + imageBlock(1, "Windows 11 Pro", "42") +
				"Index : 2\nName : Windows 11 Home\n" + success,
			14,
		},
		"block-without-blank": {
			imageInfoHeader + strings.TrimSuffix(imageBlock(1, "Windows 11 Pro", "42"), "\n") + success,
			11,
		},
		"interleaved-text": {
			imageInfoHeader + imageBlock(1, "Windows 11 Pro", "42") + "Warning: something\n\n" + success,
			12,
		},
		"crlf":               {strings.ReplaceAll(valid, "\n", "\r\n"), 1},
		"non-numeric-index":  {imageInfoHeader + "Index : one\nName : x\nDescription : x\nSize : 1 bytes\n\n" + success, 7},
		"negative-index":     {imageInfoHeader + "Index : -1\nName : x\nDescription : x\nSize : 1 bytes\n\n" + success, 7},
		"zero-index":         {imageInfoHeader + imageBlock(0, "x", "1") + success, 7},
		"non-numeric-size":   {imageInfoHeader + imageBlock(1, "x", "big") + success, 10},
		"size-without-bytes": {imageInfoHeader + "Index : 1\nName : x\nDescription : x\nSize : 1 KB\n\n" + success, 10},
		"bad-digit-groups":   {imageInfoHeader + imageBlock(1, "x", "12,34") + success, 10},
		"missing-banner":     {strings.Replace(valid, banner+"\n", "", 1), 2},
		"missing-details":    {strings.Replace(valid, "Details for image", "Details for", 1), 5},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			info, err := dism.ParseImageInfo(tc.report)
			assert.Nil(t, info)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dism.ErrGrammarMismatch))

			var parseErr *dism.ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, dism.GrammarImageInfo, parseErr.Grammar)
			assert.Equal(t, tc.line, parseErr.Line, parseErr.Reason)
			assert.Equal(t, tc.report, parseErr.Raw)
		})
	}
}

const banner = "Deployment Image Servicing and Management tool"

func TestParseCapabilities(t *testing.T) {
	report := capabilitiesHeader +
		capabilityBlock("App.StepsRecorder~~~~0.0.1.0", "Installed") +
		capabilityBlock("Browser.InternetExplorer~~~~0.0.11.0", "Not Present") +
		capabilityBlock("Hello.Face.20134~~~~0.0.1.0", "Staged") +
		capabilityBlock("Print.Fax.Scan~~~~0.0.1.0", "Install Pending") +
		success

	listing, err := dism.ParseCapabilities(report)
	require.NoError(t, err)
	assert.Equal(t, "10.0.22621.2792", listing.ToolVersion)
	assert.Equal(t, "10.0.22631.2861", listing.ImageVersion)
	assert.Equal(t, []dism.Capability{
		{ID: "App.StepsRecorder~~~~0.0.1.0", State: dism.StateInstalled},
		{ID: "Browser.InternetExplorer~~~~0.0.11.0", State: dism.StateNotPresent},
		{ID: "Hello.Face.20134~~~~0.0.1.0", State: dism.StateStaged},
		{ID: "Print.Fax.Scan~~~~0.0.1.0", State: dism.CapabilityState("Install Pending")},
	}, listing.Capabilities)
}

func TestParseCapabilitiesEmpty(t *testing.T) {
	listing, err := dism.ParseCapabilities(capabilitiesHeader + success)
	require.NoError(t, err)
	assert.Empty(t, listing.Capabilities)
}

func TestParseCapabilitiesFromTool(t *testing.T) {
	raw, err := os.ReadFile("testdata/get-capabilities.txt")
	require.NoError(t, err)

	listing, err := dism.ParseCapabilities(dism.Normalize(string(raw)))
	require.NoError(t, err)
	assert.Len(t, listing.Capabilities, 7)
	assert.Equal(t, dism.StateStaged, listing.Capabilities[5].State)
}

func TestParseCapabilitiesStrict(t *testing.T) {
	valid := capabilitiesHeader + capabilityBlock("OpenSSH.Client~~~~0.0.1.0", "Installed") + success

	for name, report := range map[string]string{
		"empty":              "",
		"image-info-report":  imageInfoHeader + success,
		"missing-listing":    strings.Replace(valid, "Capability listing:\n\n", "", 1),
		"truncated-block":    capabilitiesHeader + "Capability Identity : OpenSSH.Client~~~~0.0.1.0\n" + success,
		"state-before-id":    capabilitiesHeader + "State : Installed\nCapability Identity : x\n\n" + success,
		"trailing-character": valid + " ",
		"trailing-block":     valid + capabilityBlock("x", "Installed"),
	} {
		t.Run(name, func(t *testing.T) {
			listing, err := dism.ParseCapabilities(report)
			assert.Nil(t, listing)
			assert.ErrorIs(t, err, dism.ErrGrammarMismatch)
		})
	}
}

func TestParseDispatch(t *testing.T) {
	result, err := dism.Parse(imageInfoHeader+success, dism.GrammarImageInfo)
	require.NoError(t, err)
	assert.IsType(t, &dism.ImageInfo{}, result)

	result, err = dism.Parse(capabilitiesHeader+success, dism.GrammarCapabilities)
	require.NoError(t, err)
	assert.IsType(t, &dism.CapabilityListing{}, result)

	_, err = dism.Parse(capabilitiesHeader+success, dism.GrammarImageInfo)
	assert.ErrorIs(t, err, dism.ErrGrammarMismatch)

	_, err = dism.Parse("", dism.Grammar(42))
	assert.EqualError(t, err, "unknown report grammar grammar(42)")
}

func TestParseSize(t *testing.T) {
	for input, expected := range map[string]uint64{
		"0":              0,
		"999":            999,
		"1,000":          1000,
		"18,771,342,387": 18771342387,
		"18771342387":    18771342387,
	} {
		size, err := dism.ParseSize(input)
		assert.NoError(t, err, input)
		assert.Equal(t, expected, size, input)
	}

	for _, input := range []string{"", "-1", "+1", "1,00", "1,0000", ",100", "1234,567", "1.5", " 1"} {
		_, err := dism.ParseSize(input)
		assert.Error(t, err, input)
	}
}
