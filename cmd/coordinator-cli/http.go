package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient.Post(coordinatorURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func getJSON(path string, out any) error {
	resp, err := httpClient.Get(coordinatorURL + path)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func deleteJSON(path string) error {
	req, err := http.NewRequest(http.MethodDelete, coordinatorURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		return errors.New(body.Error)
	}
	return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
}
