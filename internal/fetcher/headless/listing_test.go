package headless

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/paper-harvester/internal/harvest/tree"
)

const folderPage = `<html><body>
<table id="ctl00_grid">
<tr><td><a title="Go Back" href="javascript:__doPostBack('ctl00$grid','Back')">Go Back</a></td></tr>
<tr><td><a href="javascript:__doPostBack('ctl00$grid','Up')">..</a></td></tr>
<tr><td><a href="javascript:__doPostBack('ctl00$grid','F$0')">III Sem
    Chemical</a></td></tr>
<tr><td><a href="javascript:__doPostBack('ctl00$grid','F$1')">IV Sem Civil</a></td></tr>
<tr><td><a href="javascript:__doPostBack('ctl00$grid','F$2')">Notice.pdf</a></td></tr>
<tr><td><a href="javascript:__doPostBack('ctl00$grid','F$3')"></a></td></tr>
<tr><td><a href="Question Papers/2019/Thermodynamics (CHE-2104).pdf">Thermodynamics (CHE-2104).pdf</a></td></tr>
<tr><td><a href="https://cdn.portal.test/files/Surveying.PDF"></a></td></tr>
</table>
</body></html>`

func TestParseListing(t *testing.T) {
	t.Parallel()

	listing, err := ParseListing(folderPage, "https://portal.test/mit/Question%20Paper.aspx")
	require.NoError(t, err)

	require.Equal(t, []tree.Entry{
		{Index: 2, Name: "III Sem Chemical"},
		{Index: 3, Name: "IV Sem Civil"},
	}, listing.Folders)

	require.Equal(t, []tree.Entry{
		{
			Index: 0,
			Name:  "Thermodynamics (CHE-2104).pdf",
			URL:   "https://portal.test/mit/Question%20Papers/2019/Thermodynamics%20%28CHE-2104%29.pdf",
		},
		{
			Index: 1,
			Name:  "Surveying.PDF",
			URL:   "https://cdn.portal.test/files/Surveying.PDF",
		},
	}, listing.Documents)
}

func TestParseListingEmptyPage(t *testing.T) {
	t.Parallel()

	listing, err := ParseListing("<html><body><p>No files</p></body></html>", "")
	require.NoError(t, err)
	require.Empty(t, listing.Folders)
	require.Empty(t, listing.Documents)
}
