package dlclient

import (
	"github.com/warpdl/dlmgr/common"
)

// Info is a snapshot of one request as the CLI shows it. Fields the
// daemon has no data for are left empty.
type Info struct {
	ID          int32
	State       common.State
	Error       common.ErrorCode
	URL         string
	Destination string
	FileName    string
	NetworkType common.NetworkType
	Auto        bool
	SavedPath   string
	TempPath    string
	MimeType    string
	ContentName string
	ETag        string
	Received    uint64
	Total       uint64
	HTTPStatus  int32
}

// Info reads every field of id. Any failure other than NO_DATA aborts.
func (c *Client) Info(id int32) (*Info, error) {
	in := &Info{ID: id}
	var err error
	if in.State, err = c.State(id); err != nil {
		return nil, err
	}
	if in.Error, err = c.Error(id); err != nil {
		return nil, err
	}
	strs := []struct {
		cmd common.Command
		dst *string
	}{
		{common.CMD_GET_URL, &in.URL},
		{common.CMD_GET_DESTINATION, &in.Destination},
		{common.CMD_GET_FILENAME, &in.FileName},
		{common.CMD_GET_SAVED_PATH, &in.SavedPath},
		{common.CMD_GET_TEMP_SAVED_PATH, &in.TempPath},
		{common.CMD_GET_MIME_TYPE, &in.MimeType},
		{common.CMD_GET_CONTENT_NAME, &in.ContentName},
		{common.CMD_GET_ETAG, &in.ETag},
	}
	for _, s := range strs {
		v, err := c.getString(id, s.cmd)
		if err != nil && !IsNoData(err) {
			return nil, err
		}
		*s.dst = v
	}
	nt, err := c.getInt(id, common.CMD_GET_NETWORK_TYPE)
	if err != nil {
		return nil, err
	}
	in.NetworkType = common.NetworkType(nt)
	auto, err := c.getInt(id, common.CMD_GET_AUTO_DOWNLOAD)
	if err != nil {
		return nil, err
	}
	in.Auto = auto != 0
	if in.Received, err = c.Received(id); err != nil {
		return nil, err
	}
	if in.Total, err = c.Total(id); err != nil && !IsNoData(err) {
		return nil, err
	}
	if in.HTTPStatus, err = c.getInt(id, common.CMD_GET_HTTP_STATUS); err != nil && !IsNoData(err) {
		return nil, err
	}
	return in, nil
}
