package dlclient

import (
	"errors"

	"github.com/warpdl/dlmgr/common"
)

var none common.Tail

// Create makes a READY request and returns its id.
func (c *Client) Create() (int32, error) {
	v, err := c.Call(0, common.CMD_CREATE, none)
	if err != nil {
		return 0, err
	}
	return v.(int32), nil
}

func (c *Client) Start(id int32) error   { return c.control(id, common.CMD_START) }
func (c *Client) Pause(id int32) error   { return c.control(id, common.CMD_PAUSE) }
func (c *Client) Cancel(id int32) error  { return c.control(id, common.CMD_CANCEL) }
func (c *Client) Destroy(id int32) error { return c.control(id, common.CMD_DESTROY) }
func (c *Client) Free(id int32) error    { return c.control(id, common.CMD_FREE) }

// Remove destroys id and releases it.
func (c *Client) Remove(id int32) error {
	if err := c.Destroy(id); err != nil {
		return err
	}
	return c.Free(id)
}

func (c *Client) control(id int32, cmd common.Command) error {
	_, err := c.Call(id, cmd, none)
	return err
}

func (c *Client) SetURL(id int32, u string) error {
	return c.setString(id, common.CMD_SET_URL, u)
}

func (c *Client) SetDestination(id int32, dir string) error {
	return c.setString(id, common.CMD_SET_DESTINATION, dir)
}

func (c *Client) SetFileName(id int32, name string) error {
	return c.setString(id, common.CMD_SET_FILENAME, name)
}

func (c *Client) SetNetworkType(id int32, nt common.NetworkType) error {
	return c.setInt(id, common.CMD_SET_NETWORK_TYPE, int32(nt))
}

func (c *Client) SetAutoDownload(id int32, on bool) error {
	return c.setInt(id, common.CMD_SET_AUTO_DOWNLOAD, boolInt(on))
}

func (c *Client) SetStateCallback(id int32, on bool) error {
	return c.setInt(id, common.CMD_SET_STATE_CALLBACK, boolInt(on))
}

func (c *Client) SetProgressCallback(id int32, on bool) error {
	return c.setInt(id, common.CMD_SET_PROGRESS_CALLBACK, boolInt(on))
}

func (c *Client) SetNotification(id int32, nt common.NotificationType, title, description string) error {
	if err := c.setInt(id, common.CMD_SET_NOTIFICATION_TYPE, int32(nt)); err != nil {
		return err
	}
	if title != "" {
		if err := c.setString(id, common.CMD_SET_NOTIFICATION_TITLE, title); err != nil {
			return err
		}
	}
	if description != "" {
		return c.setString(id, common.CMD_SET_NOTIFICATION_DESCRIPTION, description)
	}
	return nil
}

func (c *Client) AddHeader(id int32, field, value string) error {
	_, err := c.Call(id, common.CMD_ADD_HTTP_HEADER, common.Tail{Field: field, Value: value})
	return err
}

func (c *Client) RemoveHeader(id int32, field string) error {
	return c.setString(id, common.CMD_REMOVE_HTTP_HEADER, field)
}

func (c *Client) HeaderValue(id int32, field string) (string, error) {
	v, err := c.Call(id, common.CMD_GET_HTTP_HEADER_VALUE, common.Tail{Str: field})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// HeaderFields lists the header names of id. A request without headers
// yields an empty list.
func (c *Client) HeaderFields(id int32) ([]string, error) {
	v, err := c.Call(id, common.CMD_GET_HTTP_HEADER_FIELDS, none)
	if IsNoData(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (c *Client) State(id int32) (common.State, error) {
	v, err := c.getInt(id, common.CMD_GET_STATE)
	return common.State(v), err
}

func (c *Client) Error(id int32) (common.ErrorCode, error) {
	v, err := c.getInt(id, common.CMD_GET_ERROR)
	return common.ErrorCode(v), err
}

func (c *Client) URL(id int32) (string, error) {
	return c.getString(id, common.CMD_GET_URL)
}

func (c *Client) Received(id int32) (uint64, error) {
	return c.getUint64(id, common.CMD_GET_RECEIVED_SIZE)
}

func (c *Client) Total(id int32) (uint64, error) {
	return c.getUint64(id, common.CMD_GET_TOTAL_FILE_SIZE)
}

func (c *Client) setString(id int32, cmd common.Command, s string) error {
	_, err := c.Call(id, cmd, common.Tail{Str: s})
	return err
}

func (c *Client) setInt(id int32, cmd common.Command, v int32) error {
	_, err := c.Call(id, cmd, common.Tail{Int: v})
	return err
}

func (c *Client) getString(id int32, cmd common.Command) (string, error) {
	v, err := c.Call(id, cmd, none)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) getInt(id int32, cmd common.Command) (int32, error) {
	v, err := c.Call(id, cmd, none)
	if err != nil {
		return 0, err
	}
	return v.(int32), nil
}

func (c *Client) getUint64(id int32, cmd common.Command) (uint64, error) {
	v, err := c.Call(id, cmd, none)
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// IsNoData reports whether err is a NO_DATA reply.
func IsNoData(err error) bool {
	return Code(err) == common.ERROR_NO_DATA
}

// Code returns the reply code carried by err, or ERROR_NONE.
func Code(err error) common.ErrorCode {
	var ce *common.CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return common.ERROR_NONE
}
