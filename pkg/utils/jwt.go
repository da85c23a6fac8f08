package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/logger"
	"go.uber.org/zap"
)

const tokenIssuer = "postflow"

var ErrMissingWorkspace = errors.New("token carries no workspace")

func GenerateToken(secretKey, workspaceID, userID string, tokenDuration time.Duration) (string, error) {
	if workspaceID == "" {
		return "", ErrMissingWorkspace
	}

	now := time.Now()
	claims := transfer.CustomClaims{
		WorkspaceID: workspaceID,
		UserID:      userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(secretKey))
	if err != nil {
		logger.Info("signing token", zap.Error(err))
		return "", err
	}

	return signedToken, nil
}

func ValidateToken(secretKey, tokenString string) (*transfer.CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &transfer.CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid token signing method")
		}
		return []byte(secretKey), nil
	}, jwt.WithIssuer(tokenIssuer))

	if err != nil {
		logger.Info("validating token", zap.Error(err))
		return nil, err
	}

	if claims, ok := token.Claims.(*transfer.CustomClaims); ok && token.Valid {
		if claims.WorkspaceID == "" {
			return nil, ErrMissingWorkspace
		}
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
