package db

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// SerializerName is the gorm serializer tag value for encrypted columns:
//
//	Notes string `gorm:"type:text;serializer:encrypted"`
const SerializerName = "encrypted"

// gorm keeps serializers in a process-wide registry, so the active cipher
// is process-wide as well.
var activeCipher atomic.Pointer[Cipher]

// The serializer is registered up front so models parse even when no key
// is configured (migrations); reading or writing them then fails.
func init() {
	schema.RegisterSerializer(SerializerName, encryptedSerializer{})
}

// FieldEncryption is a gorm plugin that encrypts tagged string fields on
// write and decrypts them on read.
type FieldEncryption struct {
	cipher *Cipher
}

func NewFieldEncryption(c *Cipher) *FieldEncryption {
	return &FieldEncryption{cipher: c}
}

func (p *FieldEncryption) Name() string { return "field_encryption" }

func (p *FieldEncryption) Initialize(*gorm.DB) error {
	if p.cipher == nil {
		return errors.New("field encryption: nil cipher")
	}
	activeCipher.Store(p.cipher)
	return nil
}

type encryptedSerializer struct{}

func (encryptedSerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	var stored string
	switch v := dbValue.(type) {
	case nil:
	case string:
		stored = v
	case []byte:
		stored = string(v)
	default:
		return fmt.Errorf("field %s: unsupported encrypted column type %T", field.Name, dbValue)
	}

	c := activeCipher.Load()
	if c == nil {
		return errors.New("field encryption not initialised")
	}
	plain, err := c.Decrypt(stored)
	if err != nil {
		return fmt.Errorf("field %s: %w", field.Name, err)
	}
	fv := field.ReflectValueOf(ctx, dst)
	if fv.Kind() != reflect.String {
		return fmt.Errorf("field %s: encrypted fields must be strings", field.Name)
	}
	fv.SetString(plain)
	return nil
}

func (encryptedSerializer) Value(_ context.Context, field *schema.Field, _ reflect.Value, fieldValue interface{}) (interface{}, error) {
	var plain string
	switch v := fieldValue.(type) {
	case string:
		plain = v
	case *string:
		if v != nil {
			plain = *v
		}
	default:
		return nil, fmt.Errorf("field %s: encrypted fields must be strings, got %T", field.Name, fieldValue)
	}

	c := activeCipher.Load()
	if c == nil {
		return nil, errors.New("field encryption not initialised")
	}
	return c.Encrypt(plain)
}
