package kugou

// SongSearchResponse is the song search API payload.
type SongSearchResponse struct {
	Status  int `json:"status"`
	ErrCode int `json:"errcode"`
	Data    *struct {
		Total int        `json:"total"`
		Info  []SongInfo `json:"info"`
	} `json:"data"`
}

// SongInfo is one song from the search results.
type SongInfo struct {
	Hash       string `json:"hash"`
	SongName   string `json:"songname"`
	SingerName string `json:"singername"`
	AlbumName  string `json:"album_name"`
	Duration   int    `json:"duration"` // seconds
}

// LyricsSearchResponse lists lyric candidates for a song hash.
type LyricsSearchResponse struct {
	Status     int               `json:"status"`
	ErrCode    int               `json:"errcode"`
	ErrMsg     string            `json:"errmsg"`
	Candidates []LyricsCandidate `json:"candidates"`
}

// LyricsCandidate is one downloadable lyric.
type LyricsCandidate struct {
	ID          string `json:"id"`
	AccessKey   string `json:"accesskey"`
	Singer      string `json:"singer"`
	Song        string `json:"song"`
	Duration    int    `json:"duration"` // ms
	KRCType     int    `json:"krctype"`  // 1 = synced
	Score       int    `json:"score"`
	ProductFrom string `json:"product_from"`
}

// DownloadResponse carries base64 encoded LRC content.
type DownloadResponse struct {
	Status    int    `json:"status"`
	Info      string `json:"info"`
	ErrorCode int    `json:"error_code"`
	Fmt       string `json:"fmt"`
	Content   string `json:"content"`
}
