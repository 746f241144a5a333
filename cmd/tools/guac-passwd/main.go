// Command guac-passwd prints a Guacamole-compatible password hash and salt,
// for seeding accounts in development and test databases.
package main

import (
	"bufio"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"guacplayer/internal/auth"
)

type credential struct {
	Hash []byte
	Salt []byte
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "guac-passwd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	flags := flag.NewFlagSet("guac-passwd", flag.ContinueOnError)
	flags.SetOutput(stdout)
	password := flags.String("password", "", "password to hash (read from stdin when empty)")
	saltHex := flags.String("salt", "", "hex salt to reuse instead of a random one")
	username := flags.String("username", "", "emit an UPDATE statement for this Guacamole user")
	if err := flags.Parse(args); err != nil {
		return err
	}

	secret := *password
	if secret == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read password: %w", err)
		}
		secret = strings.TrimRight(line, "\r\n")
	}
	if secret == "" {
		return errors.New("password is required")
	}

	var salt []byte
	if *saltHex != "" {
		decoded, err := hex.DecodeString(strings.TrimSpace(*saltHex))
		if err != nil {
			return fmt.Errorf("decode salt: %w", err)
		}
		salt = decoded
	}
	cred, err := generate(secret, salt)
	if err != nil {
		return err
	}
	return render(stdout, cred, strings.TrimSpace(*username))
}

// generate hashes password with salt, drawing a fresh salt when none is given.
func generate(password string, salt []byte) (credential, error) {
	if len(salt) == 0 {
		fresh, err := auth.NewSalt()
		if err != nil {
			return credential{}, err
		}
		salt = fresh
	}
	return credential{Hash: auth.HashSecret(password, salt), Salt: salt}, nil
}

func render(w io.Writer, cred credential, username string) error {
	hash := strings.ToUpper(hex.EncodeToString(cred.Hash))
	salt := strings.ToUpper(hex.EncodeToString(cred.Salt))
	if username == "" {
		_, err := fmt.Fprintf(w, "password_hash %s\npassword_salt %s\n", hash, salt)
		return err
	}
	_, err := fmt.Fprintf(w,
		"UPDATE guacamole_user SET password_hash = decode('%s', 'hex'), password_salt = decode('%s', 'hex'), password_date = now()\n"+
			"WHERE entity_id = (SELECT entity_id FROM guacamole_entity WHERE name = '%s' AND type = 'USER');\n",
		hash, salt, strings.ReplaceAll(username, "'", "''"))
	return err
}
