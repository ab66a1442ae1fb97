package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"

	soter "github.com/WilliamRen/themis"
	"github.com/WilliamRen/themis/hashtype"
	"github.com/WilliamRen/themis/version"
)

// Verification service for the asymmetric cipher: other implementations
// generate, encrypt and decrypt against it to confirm wire compatibility
// of ciphertexts and key containers.

var (
	listenAddr = flag.String("addr", "localhost:8084", "listen address")

	sessionMutex sync.Mutex
	sessionCount int
	sessions     map[int]*soter.AsymCipherContext = make(map[int]*soter.AsymCipherContext)
)

type cipherData struct {
	Session    int    `json:"session"`
	Hash       string `json:"hash,omitempty"`
	Key        string `json:"key,omitempty"`
	Plaintext  string `json:"plaintext,omitempty"`
	Ciphertext string `json:"ciphertext,omitempty"`
	Error      string `json:"error,omitempty"`
}

func respond(w http.ResponseWriter, status int, data *cipherData) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("encoding response")
	}
}

func respondError(w http.ResponseWriter, status int, format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	log.Warn(msg)
	respond(w, status, &cipherData{Error: msg})
}

func readRequest(w http.ResponseWriter, r *http.Request) (*cipherData, bool) {
	reqData := &cipherData{}
	if err := json.NewDecoder(r.Body).Decode(reqData); err != nil {
		respondError(w, http.StatusBadRequest, "decoding request body: %v", err)
		return nil, false
	}
	return reqData, true
}

func newContext(hashName string) (*soter.AsymCipherContext, error) {
	if hashName == "" {
		return soter.New(soter.PaddingOAEP)
	}
	hashType, err := hashtype.DeserializeHashType([]byte(hashName))
	if err != nil {
		return nil, err
	}
	return soter.New(soter.PaddingOAEP, soter.WithOAEPHash(hashType))
}

// encryptAll drives the two-phase buffer negotiation to completion.
func encryptAll(ctx *soter.AsymCipherContext, plaintext []byte) ([]byte, error) {
	_, err := ctx.Encrypt(plaintext, nil)
	required, ok := soter.BufferTooSmall(err)
	if !ok {
		return nil, err
	}
	buf := make([]byte, required)
	n, err := ctx.Encrypt(plaintext, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func decryptAll(ctx *soter.AsymCipherContext, ciphertext []byte) ([]byte, error) {
	required, err := ctx.DecryptSize()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, required)
	n, err := ctx.Decrypt(ciphertext, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func generateKey(w http.ResponseWriter, r *http.Request) {
	reqData, ok := readRequest(w, r)
	if !ok {
		return
	}

	ctx, err := newContext(reqData.Hash)
	if err != nil {
		respondError(w, http.StatusBadRequest, "GENERATE: creating context: %v", err)
		return
	}
	if err := ctx.GenKey(); err != nil {
		respondError(w, http.StatusInternalServerError, "GENERATE: generating key: %v", err)
		return
	}

	pub := make([]byte, 0)
	_, err = ctx.ExportKey(pub, false)
	if required, ok := soter.BufferTooSmall(err); ok {
		pub = make([]byte, required)
		_, err = ctx.ExportKey(pub, false)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "GENERATE: exporting public key: %v", err)
		return
	}

	sessionMutex.Lock()
	sessionCount++
	session := sessionCount
	sessions[session] = ctx
	sessionMutex.Unlock()

	log.WithField("session", session).Info("generated key")
	respond(w, http.StatusOK, &cipherData{
		Session: session,
		Key:     base64.URLEncoding.EncodeToString(pub),
	})
}

func encrypt(w http.ResponseWriter, r *http.Request) {
	reqData, ok := readRequest(w, r)
	if !ok {
		return
	}
	plaintext, err := base64.URLEncoding.DecodeString(reqData.Plaintext)
	if err != nil {
		respondError(w, http.StatusBadRequest, "ENCRYPT: decoding base64 plaintext: %v", err)
		return
	}

	var ctx *soter.AsymCipherContext
	if reqData.Key != "" {
		// An explicit key container means the peer wants us to encrypt
		// with a key of theirs, typically one exported by /generate.
		keyData, err := base64.URLEncoding.DecodeString(reqData.Key)
		if err != nil {
			respondError(w, http.StatusBadRequest, "ENCRYPT: decoding base64 key: %v", err)
			return
		}
		ctx, err = newContext(reqData.Hash)
		if err != nil {
			respondError(w, http.StatusBadRequest, "ENCRYPT: creating context: %v", err)
			return
		}
		defer ctx.Close()
		if err := ctx.ImportKey(keyData); err != nil {
			respondError(w, http.StatusBadRequest, "ENCRYPT: importing key: %v", err)
			return
		}
	} else {
		sessionMutex.Lock()
		ctx = sessions[reqData.Session]
		sessionMutex.Unlock()
		if ctx == nil {
			respondError(w, http.StatusNotFound, "ENCRYPT: no session %v", reqData.Session)
			return
		}
	}

	sessionMutex.Lock()
	ciphertext, err := encryptAll(ctx, plaintext)
	sessionMutex.Unlock()
	if err != nil {
		respondError(w, http.StatusBadRequest, "ENCRYPT: %v", err)
		return
	}
	respond(w, http.StatusOK, &cipherData{
		Session:    reqData.Session,
		Ciphertext: base64.URLEncoding.EncodeToString(ciphertext),
	})
}

func decrypt(w http.ResponseWriter, r *http.Request) {
	reqData, ok := readRequest(w, r)
	if !ok {
		return
	}
	ciphertext, err := base64.URLEncoding.DecodeString(reqData.Ciphertext)
	if err != nil {
		respondError(w, http.StatusBadRequest, "DECRYPT: decoding base64 ciphertext: %v", err)
		return
	}

	sessionMutex.Lock()
	ctx := sessions[reqData.Session]
	sessionMutex.Unlock()
	if ctx == nil {
		respondError(w, http.StatusNotFound, "DECRYPT: no session %v", reqData.Session)
		return
	}

	sessionMutex.Lock()
	plaintext, err := decryptAll(ctx, ciphertext)
	sessionMutex.Unlock()
	if err != nil {
		respondError(w, http.StatusBadRequest, "DECRYPT: %v", err)
		return
	}
	respond(w, http.StatusOK, &cipherData{
		Session:   reqData.Session,
		Plaintext: base64.URLEncoding.EncodeToString(plaintext),
	})
}

func serviceVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, version.String())
}

func initializeMux(mux *http.ServeMux) {
	mux.HandleFunc("/generate", generateKey)
	mux.HandleFunc("/encrypt", encrypt)
	mux.HandleFunc("/decrypt", decrypt)
	mux.HandleFunc("/version", serviceVersion)
}

func main() {
	flag.Parse()

	mux := http.NewServeMux()
	initializeMux(mux)

	server := &http.Server{
		Addr:    *listenAddr,
		Handler: cors.Default().Handler(mux),
	}
	log.WithField("addr", *listenAddr).Info("starting verification service")
	if err := server.ListenAndServe(); err != nil {
		log.WithError(err).Error("server stopped")
	}
}
